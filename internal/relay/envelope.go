package relay

// Envelope is the inbound message a channel adapter writes to the relay's
// stdin. Audio is base64 in JSON.
type Envelope struct {
	From  string `json:"from"`
	Text  string `json:"text,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Audio []byte `json:"audio,omitempty"`
	MIME  string `json:"mime,omitempty"`
}

// Reply is what the relay writes to stdout for the adapter to deliver.
type Reply struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// Empty reports whether the envelope carries nothing to dispatch.
func (e *Envelope) Empty() bool {
	return e.From == "" || (e.Text == "" && len(e.Audio) == 0)
}
