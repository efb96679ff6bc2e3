// Package config loads the ingot configuration file.
//
// Example:
//
//	log_level: info
//	state_dir: /var/lib/ingot
//	default_volume_size: 1GB
//	pools:
//	  - name: scratch
//	    backend: memory
//	  - name: files
//	    backend: flatfile
//	    path: /srv/ingot/files
//	    sudo: true
//	  - name: fast
//	    backend: lvm
//	    volume_group: vg0
//	  - name: images
//	    backend: libvirt
//	    libvirt_pool: default
//	    format: qcow2
//
// Sizes accept units (64MB, 10GB) and durations use Go syntax (5s, 1m).
package config
