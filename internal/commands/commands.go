// Package commands turns inbound channel messages into engine operations.
//
// It knows nothing about any particular messaging transport: adapters hand it
// a Message and deliver the Reply it returns.
package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/confidant/internal/directory"
	"github.com/lazypower/confidant/internal/engine"
	"github.com/lazypower/confidant/internal/errs"
	"github.com/lazypower/confidant/internal/logging"
	"github.com/lazypower/confidant/internal/memory"
	"github.com/lazypower/confidant/internal/store"
	"github.com/lazypower/confidant/internal/tags"
)

// Message kinds.
const (
	KindText  = "text"
	KindVoice = "voice"
)

// ChallengeWindow is how long an open /unlock challenge waits for the
// passphrase.
const ChallengeWindow = 2 * time.Minute

// ChallengeGrace is how long after ChallengeWindow a late reply is still
// treated as a passphrase attempt: refused, and never stored.
const ChallengeGrace = 10 * time.Minute

const challengeExpiredText = "That unlock request expired, send /unlock again."

type challengeState int

const (
	noChallenge challengeState = iota
	challengeOpen
	challengeExpired
)

// Message is one inbound message, already extracted from its envelope.
type Message struct {
	From  string
	Text  string
	Kind  string
	Audio []byte
	MIME  string
}

// Reply is the text to send back to the sender.
type Reply struct {
	To   string
	Text string
}

// Transcriber turns voice audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mime string) (string, error)
}

// Sender delivers outbound text.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// Dispatcher routes messages to the engine.
type Dispatcher struct {
	eng    *engine.Engine
	stt    Transcriber
	out    Sender
	now    func() time.Time
	logger *zap.Logger

	mu         sync.Mutex
	challenges map[string]time.Time // principal -> deadline
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTranscriber enables voice messages.
func WithTranscriber(t Transcriber) Option { return func(d *Dispatcher) { d.stt = t } }

// WithSender delivers every reply through s in addition to returning it.
func WithSender(s Sender) Option { return func(d *Dispatcher) { d.out = s } }

// WithClock sets the time source for unlock challenges.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// New creates a dispatcher over eng.
func New(eng *engine.Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		eng:        eng,
		now:        time.Now,
		challenges: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = logging.OrNop(d.logger).Named("commands")
	return d
}

// Handle processes one message and returns the reply. Every user-facing
// outcome, denials included, is a Reply; the error is non-nil only for
// failures a transport may want to retry or log.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) (Reply, error) {
	from, err := directory.NormalizePrincipal(msg.From)
	if err != nil {
		err = d.eng.Reject(ctx, clip(strings.TrimSpace(msg.From), 64), "commands", "invalid sender")
		return Reply{To: msg.From, Text: errs.UserMessage(err)}, nil
	}

	text, source, err := d.textOf(ctx, from, msg)
	var reply string
	if err == nil {
		state := d.takeChallenge(from)
		if strings.HasPrefix(text, "/") {
			state = noChallenge
		}
		switch state {
		case challengeOpen:
			err = d.unlock(ctx, from, text, &reply)
		case challengeExpired:
			reply = challengeExpiredText
		default:
			reply, err = d.dispatch(ctx, from, text, source)
		}
	}

	if err != nil {
		reply = errs.UserMessage(err)
		if k := errs.KindOf(err); k != errs.KindTransient && k != errs.KindUnknown {
			err = nil
		}
	}

	r := Reply{To: from, Text: reply}
	if d.out != nil {
		if serr := d.out.Send(ctx, r.To, r.Text); serr != nil {
			d.logger.Warn("reply delivery failed", zap.String("to", r.To), zap.Error(serr))
		}
	}
	return r, err
}

func (d *Dispatcher) textOf(ctx context.Context, from string, msg Message) (text, source string, err error) {
	if msg.Kind != KindVoice {
		return strings.TrimSpace(msg.Text), memory.SourceText, nil
	}
	if d.stt == nil {
		return "", "", d.eng.Reject(ctx, from, "commands", "voice messages are not supported")
	}
	text, err = d.stt.Transcribe(ctx, msg.Audio, msg.MIME)
	if err != nil {
		d.logger.Warn("transcription failed", zap.String("mime", msg.MIME), zap.Error(err))
		return "", "", errs.Transient("commands.transcribe", err)
	}
	return strings.TrimSpace(text), memory.SourceVoice, nil
}

// openChallenge starts waiting for a passphrase from p.
func (d *Dispatcher) openChallenge(p string) {
	d.mu.Lock()
	d.challenges[p] = d.now().Add(ChallengeWindow)
	d.mu.Unlock()
}

// takeChallenge consumes p's challenge. A challenge past its window but
// inside the grace period reports challengeExpired.
func (d *Dispatcher) takeChallenge(p string) challengeState {
	d.mu.Lock()
	defer d.mu.Unlock()
	deadline, ok := d.challenges[p]
	if !ok {
		return noChallenge
	}
	delete(d.challenges, p)
	switch now := d.now(); {
	case now.Before(deadline):
		return challengeOpen
	case now.Before(deadline.Add(ChallengeGrace)):
		return challengeExpired
	}
	return noChallenge
}

func (d *Dispatcher) dispatch(ctx context.Context, p, text, source string) (string, error) {
	if text == "" {
		return "", d.eng.Reject(ctx, p, "commands", "message is empty")
	}
	if !strings.HasPrefix(text, "/") {
		entry, err := d.eng.Ingest(ctx, p, text, source, "")
		if err != nil {
			return "", err
		}
		Commands.WithLabelValues("remember").Inc()
		return fmt.Sprintf("Saved as %s.", entry.Tag.Label()), nil
	}

	name, rest, _ := strings.Cut(text[1:], " ")
	name = strings.ToLower(name)
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	var (
		reply string
		err   error
	)
	switch name {
	case "help", "start":
		reply = helpText
	case "enroll":
		err = d.enroll(ctx, p, rest, &reply)
	case "unlock":
		if rest == "" {
			d.openChallenge(p)
			reply = "Send your passphrase in the next 2 minutes, as text or voice."
		} else {
			err = d.unlock(ctx, p, rest, &reply)
		}
	case "lock", "logout":
		_, err = d.eng.Logout(ctx, p)
		reply = "Locked."
	case "search":
		reply, err = d.search(ctx, p, args)
	case "recent":
		var entries []store.Entry
		entries, err = d.eng.Recent(ctx, p, intArg(args, 0))
		reply = formatEntries(entries)
	case "list":
		reply, err = d.list(ctx, p, args)
	case "get":
		reply, err = d.get(ctx, p, args)
	case "forget", "delete":
		reply, err = d.forget(ctx, p, args)
	case "audit":
		reply, err = d.audit(ctx, p, args)
	default:
		name = "unknown"
		reply = "Unknown command. Send /help for the list."
	}
	Commands.WithLabelValues(name).Inc()
	return reply, err
}

func (d *Dispatcher) enroll(ctx context.Context, p, phrase string, reply *string) error {
	if err := d.eng.Enroll(ctx, p, phrase); err != nil {
		return err
	}
	*reply = "Passphrase saved. Send /unlock to open your secret memories."
	return nil
}

func (d *Dispatcher) unlock(ctx context.Context, p, phrase string, reply *string) error {
	sess, err := d.eng.Unlock(ctx, p, phrase)
	if err != nil {
		return err
	}
	*reply = fmt.Sprintf("Unlocked until %s.", sess.ExpiresAt.Format("15:04"))
	return nil
}

func (d *Dispatcher) search(ctx context.Context, p string, args []string) (string, error) {
	// Only the exact scope names select a scope; "team meeting" is a query.
	scope := tags.ScopeSelf
	if len(args) > 1 {
		switch s := tags.Scope(strings.ToLower(args[0])); s {
		case tags.ScopeSelf, tags.ScopeDepartment, tags.ScopeTenant:
			scope = s
			args = args[1:]
		}
	}
	hits, err := d.eng.SearchScoped(ctx, p, scope, strings.Join(args, " "), 0)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "No matches.", nil
	}
	var b strings.Builder
	for i, h := range hits {
		who := ""
		if h.Entry.PrincipalID != p {
			who = " (" + h.Entry.PrincipalID + ")"
		}
		fmt.Fprintf(&b, "%d. %s%s\n   %s · %s\n", i+1, h.Entry.Content, who, h.Entry.Tag.Label(), h.Entry.ID)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Dispatcher) list(ctx context.Context, p string, args []string) (string, error) {
	if len(args) == 0 {
		return "", d.eng.Reject(ctx, p, "list", "name a tag")
	}
	tag, err := tags.Parse(args[0])
	if err != nil {
		// the engine rejects and audits unknown tags
		tag = tags.Tag(strings.ToLower(args[0]))
	}
	entries, err := d.eng.ListByTag(ctx, p, tag, intArg(args, 1))
	if err != nil {
		return "", err
	}
	return formatEntries(entries), nil
}

func (d *Dispatcher) get(ctx context.Context, p string, args []string) (string, error) {
	if len(args) == 0 {
		return "", d.eng.Reject(ctx, p, "get", "name an entry id")
	}
	e, err := d.eng.Get(ctx, p, args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s\n%s · %s", e.Content, e.Tag.Label(), time.UnixMilli(e.CreatedAt).Format("2006-01-02 15:04")), nil
}

func (d *Dispatcher) forget(ctx context.Context, p string, args []string) (string, error) {
	if len(args) == 0 {
		return "", d.eng.Reject(ctx, p, "forget", "name an entry id")
	}
	reason := strings.Join(args[1:], " ")
	if err := d.eng.Delete(ctx, p, args[0], reason); err != nil {
		return "", err
	}
	return "Forgotten.", nil
}

func (d *Dispatcher) audit(ctx context.Context, p string, args []string) (string, error) {
	recs, err := d.eng.AuditTrail(ctx, p, "", intArg(args, 0))
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "No activity recorded.", nil
	}
	var b strings.Builder
	for _, r := range recs {
		fmt.Fprintf(&b, "%s %s\n", time.UnixMilli(r.TS).Format("2006-01-02 15:04"), r.EventType)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func formatEntries(entries []store.Entry) string {
	if len(entries) == 0 {
		return "Nothing stored yet."
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s\n  %s · %s\n", e.Content, e.Tag.Label(), e.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func clip(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

// intArg parses args[i] as a positive count, or returns 0 for the default.
func intArg(args []string, i int) int {
	if i >= len(args) {
		return 0
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

const helpText = `Send any message and I'll remember it, filed by sensitivity.

/search [self|department|tenant] <words>  find memories
/recent [n]  newest memories
/list <tag> [n]  one tier: chronological, general, confidential, secret, ultra_secret
/get <id>  show one memory
/forget <id> [reason]  delete a memory
/enroll <passphrase>  set your passphrase
/unlock [passphrase]  open secret memories for 10 minutes
/lock  close them again
/audit [n]  recent activity on your account`
