// Package metadata builds the hearth element stored in a domain's
// <metadata> block. The element ties a libvirt domain back to the VM row
// that owns it, so a domain found on the host can be traced to its record
// even when the database is unavailable.
//
// The payload is YAML so it stays readable in `virsh dumpxml` output:
//
//	<metadata>
//	  <instance xmlns="http://hearth.jbweber.github.io/v1">vm_id: 6b1f...
//	name: web
//	</instance>
//	</metadata>
package metadata

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Namespace is the XML namespace of the hearth metadata element.
const Namespace = "http://hearth.jbweber.github.io/v1"

// ErrAbsent is returned by Parse when the metadata carries no hearth element.
var ErrAbsent = errors.New("hearth metadata not present")

// Info is what hearth records about a domain's owner.
type Info struct {
	VMID string `yaml:"vm_id"`
	Name string `yaml:"name"`
}

type element struct {
	XMLName xml.Name `xml:"instance"`
	Xmlns   string   `xml:"xmlns,attr"`
	Payload string   `xml:",chardata"`
}

// Element renders the hearth element for the inner XML of <metadata>.
func Element(info Info) (string, error) {
	payload, err := yaml.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata to YAML: %w", err)
	}
	out, err := xml.Marshal(element{Xmlns: Namespace, Payload: string(payload)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata element: %w", err)
	}
	return string(out), nil
}

// Parse extracts Info from the inner XML of a domain's <metadata> block.
// Elements of other namespaces are skipped.
func Parse(inner string) (*Info, error) {
	dec := xml.NewDecoder(strings.NewReader(inner))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, ErrAbsent
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata XML: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Space != Namespace {
			continue
		}

		var el element
		if err := dec.DecodeElement(&el, &start); err != nil {
			return nil, fmt.Errorf("failed to decode hearth metadata: %w", err)
		}
		var info Info
		if err := yaml.Unmarshal([]byte(el.Payload), &info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal hearth metadata YAML: %w", err)
		}
		return &info, nil
	}
}
