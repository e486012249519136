// Package netlink implements the kernel discovery subsystem: a synchronous
// client for the three netlink protocols we need to enumerate listening
// sockets and attribute them to interfaces.
//
//   - rtnetlink (rtnetlink(7)): link enumeration, including tunnel-type
//     detection, and the local routing table.
//   - sock_diag (sock_diag(7)): listening-socket enumeration across the
//     {v4,v6} x {tcp,udp,udplite,raw,sctp,icmp} grid.
//   - generic netlink: wireguard listen-port discovery, since wireguard
//     does not expose its port through link attributes the way vxlan and
//     geneve do.
//
// Every query opens one netlink socket, drives one or more NLM_F_DUMP
// requests to completion and closes it. There is no multiplexing and no
// concurrency; the receive loop lives in Conn.Execute and reassembles
// multi-datagram dumps by walking frames at their declared lengths.
//
// The relevant kernel entry points are inet_diag_dump_icsk [0] for socket
// dumps and rtnl_dump_all [1] for link/route dumps.
//
// 0: https://elixir.bootlin.com/linux/v6.12.4/source/net/ipv4/inet_diag.c#L1019
//
// 1: https://elixir.bootlin.com/linux/v6.12.4/source/net/core/rtnetlink.c#L4208
package netlink
