package relay

// Direction tells which way an audio frame travels through the relay.
type Direction int

const (
	ClientToUpstream Direction = iota
	UpstreamToClient
)

func (d Direction) String() string {
	if d == UpstreamToClient {
		return "upstream->client"
	}
	return "client->upstream"
}

// Frame is one audio chunk as the relay sees it. Seq increases within the
// current utterance (client->upstream) or response unit (upstream->client).
type Frame struct {
	Direction Direction
	Seq       uint64
	Data      []byte
}

func inboundFrame(seq uint64, data []byte) Frame {
	return Frame{Direction: ClientToUpstream, Seq: seq, Data: data}
}

func outboundFrame(c Chunk) Frame {
	return Frame{Direction: UpstreamToClient, Seq: uint64(c.Seq), Data: c.Audio}
}
