// Package libvirt connects hearth to the hypervisor and renders the XML
// documents it hands over.
//
// Connections are short lived. A Connector opens one per Do call and closes
// it on every exit path:
//
//	cn := libvirt.NewConnector(libvirt.Options{}, log)
//	err := cn.Do(ctx, func(l *golibvirt.Libvirt) error {
//	    _, err := l.DomainDefineXML(xml)
//	    return err
//	})
//
// RenderDomain, RenderDisk, RenderInterface and RenderSnapshot build
// documents from stored rows with libvirtxml. Rendering is deterministic:
// devices are sorted, so the same rows always produce the same XML.
//
// This package does not define interfaces for the libvirt API. Consumers
// (internal/vm) declare the subset they call and *libvirt.Libvirt satisfies
// it implicitly.
package libvirt
