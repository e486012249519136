package netlink

// Netlink protocol families (netlink(7)). Defined here rather than pulled
// from x/sys/unix so that everything but the syscall layer builds and tests
// on any platform.
const (
	ProtoRoute    = 0  // NETLINK_ROUTE
	ProtoSockDiag = 4  // NETLINK_SOCK_DIAG
	ProtoGeneric  = 16 // NETLINK_GENERIC
)

// Message header.
const (
	nlmsgHdrLen = 16
	nlmsgAlign  = 4
)

// Control message types.
const (
	nlmsgNoop    = 0x1
	nlmsgError   = 0x2
	nlmsgDone    = 0x3
	nlmsgOverrun = 0x4
	nlmsgMinType = 0x10 // anything below is reserved for control messages
)

// Header flags.
const (
	nlmRequest = 0x1
	nlmAck     = 0x4
	nlmRoot    = 0x100
	nlmMatch   = 0x200
	nlmDump    = nlmRoot | nlmMatch
)

// Address families.
const (
	afUnspec = 0
	afInet   = 2
	afInet6  = 10
)

// IP protocol numbers for the sock_diag grid.
const (
	ipprotoICMP    = 1
	ipprotoTCP     = 6
	ipprotoUDP     = 17
	ipprotoICMPv6  = 58
	ipprotoSCTP    = 132
	ipprotoUDPLite = 136
	ipprotoRaw     = 255
)

// rtnetlink message types and attributes (rtnetlink(7)).
const (
	rtmNewLink  = 16
	rtmGetLink  = 18
	rtmNewRoute = 24
	rtmGetRoute = 26

	ifInfomsgLen = 16
	rtMsgLen     = 12

	iflaIfname   = 3
	iflaLinkinfo = 18

	iflaInfoKind = 1
	iflaInfoData = 2

	// Tunnel kinds that embed their UDP port in IFLA_INFO_DATA.
	iflaVxlanPort  = 15 // __be16, if_link.h IFLA_VXLAN_PORT
	iflaGenevePort = 6  // __be16, if_link.h IFLA_GENEVE_PORT

	rtaDst = 1
	rtaOIF = 4

	rtTableLocal = 255 // RT_TABLE_LOCAL
	rtnLocal     = 2   // RTN_LOCAL
)

// sock_diag message type and inet_diag layout (sock_diag(7)).
const (
	sockDiagByFamily = 20

	inetDiagReqLen = 56 // sizeof(inet_diag_req_v2)
	inetDiagMsgLen = 72 // sizeof(inet_diag_msg)

	inetDiagSkV6Only = 11 // INET_DIAG_SKV6ONLY, u8 boolean

	allSocketStates = 0xFFFFFFFF
)

// Generic netlink: controller and wireguard family (wireguard.h).
const (
	genlHdrLen = 4

	genlIDCtrl         = 0x10
	ctrlCmdGetFamily   = 3
	ctrlAttrFamilyID   = 1
	ctrlAttrFamilyName = 2

	wgFamilyName        = "wireguard"
	wgCmdGetDevice      = 0
	wgDeviceAIfindex    = 1
	wgDeviceAListenPort = 6
)

// Link kinds carrying tunnel ports.
const (
	kindWireguard = "wireguard"
	kindVxlan     = "vxlan"
	kindGeneve    = "geneve"
)
