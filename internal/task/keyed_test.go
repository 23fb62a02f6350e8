package task

import (
	"testing"
)

func keyedJob(id, key string) job {
	return job{id: id, req: Request{Op: OpHostAction, Key: key}}
}

func TestKeyedQueue(t *testing.T) {
	k := newKeyedQueue()

	if !k.acquire(keyedJob("a1", "a")) {
		t.Fatal("idle key a was not acquired")
	}
	if !k.acquire(keyedJob("b1", "b")) {
		t.Fatal("idle key b was not acquired")
	}
	if k.acquire(keyedJob("a2", "a")) {
		t.Fatal("busy key a was acquired twice")
	}
	if k.acquire(keyedJob("a3", "a")) {
		t.Fatal("busy key a was acquired twice")
	}
	if k.size() != 2 {
		t.Fatalf("size = %d, want 2", k.size())
	}

	var order []string
	for j, ok := k.next("a"); ok; j, ok = k.next("a") {
		order = append(order, j.id)
	}
	if len(order) != 2 || order[0] != "a2" || order[1] != "a3" {
		t.Errorf("backlog order = %v, want [a2 a3]", order)
	}

	if _, ok := k.next("b"); ok {
		t.Error("key b has no backlog")
	}
	if k.size() != 0 {
		t.Errorf("size = %d after draining, want 0", k.size())
	}
	if !k.acquire(keyedJob("a4", "a")) {
		t.Error("released key a was not acquired again")
	}
}
