// Package vm runs the VM lifecycle operations against the hypervisor.
//
// A Service turns the persisted rows of a VM (see package model) into a
// libvirt domain and keeps the two in step: it provisions disks, defines the
// domain, applies power actions, attaches and detaches volumes, saves disks
// as base images, manages snapshots and tears everything down on delete.
//
// The operations are written to run as background tasks. Handlers exposes
// each one as a task.Handler keyed by its task.Op; the task pool guarantees
// that two tasks for the same VM never run at once.
//
// Hypervisor access:
//
// Each operation opens its own libvirt connection through
// libvirt.Connector.Do and closes it on return. A domain is always looked up
// by the VM's instance uuid; operations that can act on an undefined VM
// (delete, attach and detach of a stopped VM, state queries) treat a missing
// domain as "not running" rather than an error.
//
// Errors:
//
// Failures are classified with package errdefs, so callers can tell a
// missing row or domain (NotFound) from a refused request (Conflict,
// InvalidArgument) or a hypervisor fault.
package vm
