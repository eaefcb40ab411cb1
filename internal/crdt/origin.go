package crdt

// Origin identifies who caused a document or awareness mutation.
// The zero value is None: a change applied by the relay itself
// (for example content loaded from the backend).
type Origin struct {
	socket string
}

// None is the origin of system-applied changes
var None = Origin{}

// FromSocket returns the origin for a change received on a socket
func FromSocket(id string) Origin {
	return Origin{socket: id}
}

// Socket returns the originating socket id, if any
func (o Origin) Socket() (string, bool) {
	return o.socket, o.socket != ""
}

// IsNone reports whether the change has no socket origin
func (o Origin) IsNone() bool {
	return o.socket == ""
}

func (o Origin) String() string {
	if o.socket == "" {
		return "none"
	}
	return "socket:" + o.socket
}
