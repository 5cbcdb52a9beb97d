// Package relay bridges channel adapters to a running confidant server.
// An adapter pipes one inbound envelope to stdin and delivers whatever reply
// appears on stdout. When the server is unreachable the relay writes nothing
// and exits cleanly so the adapter never blocks on it.
package relay

import (
	"encoding/json"
	"fmt"
	"io"
)

// Handle reads one Envelope from stdin, posts it to the server and writes the
// reply to stdout. Problems are reported on stderr; Handle itself never fails.
func Handle(client *Client, stdin io.Reader, stdout, stderr io.Writer) {
	var env Envelope
	if err := json.NewDecoder(stdin).Decode(&env); err != nil {
		logError(stderr, fmt.Errorf("decode stdin: %w", err))
		return
	}
	if env.Empty() {
		return
	}

	// Degrade silently if the server is down
	if !client.Healthy() {
		return
	}

	body, err := json.Marshal(env)
	if err != nil {
		logError(stderr, err)
		return
	}
	data, err := client.Post("/api/messages", body)
	if err != nil && len(data) == 0 {
		logError(stderr, err)
		return
	}

	// Error responses still carry a user-facing reply.
	var reply Reply
	if jerr := json.Unmarshal(data, &reply); jerr != nil {
		if err == nil {
			err = fmt.Errorf("decode reply: %w", jerr)
		}
		logError(stderr, err)
		return
	}
	if err != nil {
		logError(stderr, err)
	}
	if reply.Text == "" {
		return
	}
	if err := WriteReply(stdout, reply); err != nil {
		logError(stderr, err)
	}
}

// WriteReply writes reply as one JSON line.
func WriteReply(w io.Writer, reply Reply) error {
	return json.NewEncoder(w).Encode(reply)
}

func logError(w io.Writer, err error) {
	fmt.Fprintf(w, "confidant relay: %v\n", err)
}
