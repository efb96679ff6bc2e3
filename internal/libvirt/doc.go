// Package libvirt manages the connection to the local libvirt daemon.
//
// It wraps github.com/digitalocean/go-libvirt with connect, disconnect and
// ping helpers:
//
//	client, err := libvirt.Connect("", 0)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.Ping(); err != nil {
//	    return err
//	}
//
// This package does not define interfaces. Consumers such as
// internal/backend/libvirtpool declare the operations they need, and the
// *libvirt.Libvirt returned by Client.Libvirt satisfies them implicitly.
package libvirt
