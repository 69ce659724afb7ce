// Package config loads the configuration of an interop run.
//
// Configuration is layered. Each layer only overrides the keys it sets:
//
//  1. Built-in defaults
//  2. User configuration (~/.config/interop/config.yaml)
//  3. Project configuration (./.interop/config.yaml)
//  4. The file named by --config
//  5. Command line flags that were set explicitly
//
// A minimal project configuration:
//
//	implementations: implementations.json
//	tests: [handshake, transfer]
//	emulation:
//	  delay: 10ms
//	  loss: "1%"
//	scripts:
//	  serverPre: [./scripts/pin-cpus.sh]
//	params:
//	  server:
//	    cpu: "3"
//
// Multi-host runs additionally read a testbed file, see Testbed.
package config
