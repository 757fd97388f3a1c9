// Package netmock provides gomock-based mocks for the net.Listener,
// net.Conn and net.PacketConn interfaces, generated in spirit with
// go.uber.org/mock's mockgen and hand-maintained alongside it.
package netmock
