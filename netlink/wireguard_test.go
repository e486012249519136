package netlink

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	mdnl "github.com/mdlayher/netlink"

	"github.com/socktree/socktree/types"
)

func genlMsg(t *testing.T, cmd uint8, fn func(*mdnl.AttributeEncoder)) []byte {
	t.Helper()
	return append(genlHeader(cmd), encodeAttrs(t, fn)...)
}

const testWgFamily = 0x18

func wgFrames(t *testing.T, devices ...[]byte) [][]byte {
	t.Helper()
	frames := [][]byte{
		// Family resolution terminates with an ack, not a DONE.
		datagram(
			frame(genlIDCtrl, genlMsg(t, 1, func(ae *mdnl.AttributeEncoder) {
				ae.String(ctrlAttrFamilyName, wgFamilyName)
				ae.Uint16(ctrlAttrFamilyID, testWgFamily)
			})),
			errFrame(0),
		),
	}
	return append(frames, devices...)
}

func deviceDump(t *testing.T, port uint16) []byte {
	t.Helper()
	return datagram(
		frame(testWgFamily, genlMsg(t, wgCmdGetDevice, func(ae *mdnl.AttributeEncoder) {
			ae.Uint16(wgDeviceAListenPort, port)
		})),
		doneFrame(),
	)
}

func TestTunnelListenPorts(t *testing.T) {
	dial := testDialer(wgFrames(t, deviceDump(t, 51820), deviceDump(t, 51821))...)
	got, err := TunnelListenPorts(dial, []uint32{4, 9})
	if err != nil {
		t.Fatalf("TunnelListenPorts: %v", err)
	}
	want := types.TunnelPorts{51820: 4, 51821: 9}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ports mismatch (-want +got):\n%s", diff)
	}
}

func TestTunnelListenPortsCollision(t *testing.T) {
	// Both devices claim 51820: the first in the caller's id order wins.
	dial := testDialer(wgFrames(t, deviceDump(t, 51820), deviceDump(t, 51820))...)
	got, err := TunnelListenPorts(dial, []uint32{4, 9})
	if err != nil {
		t.Fatalf("TunnelListenPorts: %v", err)
	}
	if diff := cmp.Diff(types.TunnelPorts{51820: 4}, got); diff != "" {
		t.Errorf("collision outcome mismatch (-want +got):\n%s", diff)
	}
}

func TestTunnelListenPortsNoInterfaces(t *testing.T) {
	dial := func(protocol int) (*Conn, error) {
		t.Fatal("no socket may be opened for an empty id list")
		return nil, nil
	}
	got, err := TunnelListenPorts(dial, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("got (%v, %v); want an empty map", got, err)
	}
}

func TestTunnelListenPortsFamilyMissing(t *testing.T) {
	// Controller answers without a family id attribute.
	dial := testDialer(datagram(
		frame(genlIDCtrl, genlMsg(t, 1, func(ae *mdnl.AttributeEncoder) {
			ae.String(ctrlAttrFamilyName, wgFamilyName)
		})),
		errFrame(0),
	))
	if _, err := TunnelListenPorts(dial, []uint32{4}); err == nil {
		t.Error("a missing family id must be fatal for the query")
	}
}
