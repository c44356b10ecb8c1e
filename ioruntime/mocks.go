package ioruntime

// MockOp names a mockable network operation.
type MockOp uint8

const (
	MockSocket MockOp = iota
	MockBind
	MockListen
	MockAccept
	MockConnect
	MockSend
	MockRecv
	MockClose
)

// netMock replays a sequence of return values and then repeats the last one.
type netMock struct {
	values []int64
	data   []byte
	next   int
}

func (m *netMock) value() int64 {
	if len(m.values) == 0 {
		return 0
	}
	v := m.values[m.next]
	if m.next < len(m.values)-1 {
		m.next++
	}
	return v
}

// NetworkMocks replaces socket operations with scripted results so servers can be tested
// without real I/O. A negative value is a failure; a negative Accept means no more clients
// and halts the program.
type NetworkMocks struct {
	enabled bool
	mocks   map[MockOp]*netMock
}

func NewNetworkMocks() *NetworkMocks {
	return &NetworkMocks{mocks: make(map[MockOp]*netMock)}
}

func (n *NetworkMocks) Enable()       { n.enabled = true }
func (n *NetworkMocks) Enabled() bool { return n.enabled }

// Set scripts op and enables mock mode.
func (n *NetworkMocks) Set(op MockOp, values ...int64) {
	n.mocks[op] = &netMock{values: values}
	n.enabled = true
}

// SetRecv scripts Recv. A value equal to len(data) copies data into the buffer.
func (n *NetworkMocks) SetRecv(data []byte, values ...int64) {
	n.mocks[MockRecv] = &netMock{values: values, data: data}
	n.enabled = true
}

func (n *NetworkMocks) lookup(op MockOp) (*netMock, bool) {
	if n == nil || !n.enabled {
		return nil, false
	}
	m, ok := n.mocks[op]
	return m, ok
}
