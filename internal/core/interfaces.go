package core

import "github.com/dkeye/Parley/internal/domain"

// Frame is a raw encoded payload bound for a signaling connection.
type Frame []byte

type SessionID string

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds domain.Member and its transport endpoint.
// This is what the coordinator stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	meta *domain.Member
	sig  SignalConnection
}

func NewMemberSession(meta *domain.Member, sig SignalConnection) MemberSession {
	return &memberSession{meta: meta, sig: sig}
}

func (m *memberSession) Meta() *domain.Member     { return m.meta }
func (m *memberSession) Signal() SignalConnection { return m.sig }
