package registry

// Service is the interface for every long-running part of the relay.
type Service interface {
	Start() error
	Stop() error
}

// Closer releases a resource shared by several services once they are all stopped.
type Closer interface {
	Close() error
}

// CloserFunc adapts a plain function to Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }
