/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package peertest

import (
	"testing"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
)

// VNetPair creates a virtual WAN with two attached nets, 1.2.3.4 and 1.2.3.5.
// The router stops when the test ends.
func VNetPair(tb testing.TB) (*vnet.Net, *vnet.Net) {
	tb.Helper()

	wan, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "1.2.3.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		tb.Fatal(err)
	}

	var nets []*vnet.Net
	for _, ip := range []string{"1.2.3.4", "1.2.3.5"} {
		n, err := vnet.NewNet(&vnet.NetConfig{StaticIP: ip})
		if err != nil {
			tb.Fatal(err)
		}
		if err := wan.AddNet(n); err != nil {
			tb.Fatal(err)
		}
		nets = append(nets, n)
	}

	if err := wan.Start(); err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { wan.Stop() })

	return nets[0], nets[1]
}
