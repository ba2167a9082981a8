package kb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultMaxAttempts caps how many insufficient re-assessments a
	// gathering session survives before abandonment.
	DefaultMaxAttempts = 3

	// DefaultGatherTimeout is how long a gathering session waits for a
	// human reply before the sweep abandons it.
	DefaultGatherTimeout = 24 * time.Hour
)

// Messenger posts plain-text messages into case threads. Implemented by
// the Slack notifier.
type Messenger interface {
	PostToThread(ctx context.Context, channelID, threadID, text string) error
}

// ArticleFinder looks up existing articles similar to a candidate title.
// Used for duplicate detection before publishing.
type ArticleFinder interface {
	FindSimilar(ctx context.Context, query string) ([]string, error)
}

// Publisher stores a finished article. Implementations may write to the
// ticketing system's KB table or anywhere else.
type Publisher interface {
	Publish(ctx context.Context, caseNumber string, art *Article) error
}

// MachineOptions configure the state machine.
type MachineOptions struct {
	MaxAttempts     int
	GatherTimeout   time.Duration
	RequireApproval bool
}

// Machine drives the per-thread article generation lifecycle. All state
// lives in memory; a restart simply forgets in-flight gathering sessions.
type Machine struct {
	mu     sync.Mutex
	states map[string]*GenState
	drafts map[string]*Article

	tracker   *Tracker
	assessor  Assessor
	generator Generator
	finder    ArticleFinder
	publisher Publisher
	messenger Messenger
	parser    AnswerParser
	opts      MachineOptions
	logger    log.Logger

	now func() time.Time
}

// NewMachine wires the state machine. finder and publisher may be nil, in
// which case duplicate detection and publishing are skipped.
func NewMachine(tracker *Tracker, assessor Assessor, generator Generator, finder ArticleFinder, publisher Publisher, messenger Messenger, parser AnswerParser, opts MachineOptions, logger log.Logger) *Machine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.GatherTimeout <= 0 {
		opts.GatherTimeout = DefaultGatherTimeout
	}
	if parser == nil {
		parser = RegexAnswerParser{}
	}
	return &Machine{
		states:    make(map[string]*GenState),
		drafts:    make(map[string]*Article),
		tracker:   tracker,
		assessor:  assessor,
		generator: generator,
		finder:    finder,
		publisher: publisher,
		messenger: messenger,
		parser:    parser,
		opts:      opts,
		logger:    logger.With("component", "kb-machine"),
		now:       time.Now,
	}
}

// Get returns a copy of the active state record, or false once the
// session is terminal or unknown.
func (m *Machine) Get(caseNumber, threadID string) (*GenState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[contextKey(caseNumber, threadID)]
	if !ok {
		return nil, false
	}
	out := *st
	out.MissingInfo = append([]string(nil), st.MissingInfo...)
	return &out, true
}

// OnResolution runs the quality gate when a case thread is marked
// resolved and starts the appropriate lifecycle.
func (m *Machine) OnResolution(ctx context.Context, caseNumber, channelID, threadID string) error {
	m.tracker.MarkResolved(caseNumber, threadID)

	cc, ok := m.tracker.Snapshot(caseNumber, threadID)
	if !ok {
		return fmt.Errorf("no conversation tracked for case %s thread %s", caseNumber, threadID)
	}

	as, err := m.assessor.Assess(ctx, cc)
	if err != nil {
		return fmt.Errorf("quality assessment: %w", err)
	}

	switch as.Decision {
	case DecisionHighQuality:
		m.setState(caseNumber, channelID, threadID, StateGenerating, 0, as)
		return m.generate(ctx, caseNumber, channelID, threadID, cc)

	case DecisionNeedsInput:
		m.setState(caseNumber, channelID, threadID, StateGathering, 1, as)
		return m.askFollowUp(ctx, caseNumber, channelID, threadID, as.MissingInfo)

	case DecisionInsufficient:
		m.remove(caseNumber, threadID)
		m.logger.Info(ctx, "conversation insufficient for article", "case_number", caseNumber, "score", as.Score)
		return m.post(ctx, channelID, threadID,
			"This conversation doesn't have enough detail for a knowledge article, so I won't generate one.")
	}
	return fmt.Errorf("unknown assessment decision %q", as.Decision)
}

// OnReply feeds a human thread reply into the tracker and, when a session
// is waiting on input, re-runs the quality gate.
func (m *Machine) OnReply(ctx context.Context, caseNumber, channelID, threadID, author, text string) error {
	m.tracker.Append(caseNumber, channelID, threadID, author, text, m.now())

	m.mu.Lock()
	st, ok := m.states[contextKey(caseNumber, threadID)]
	var state State
	if ok {
		state = st.State
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	switch state {
	case StateGathering:
		return m.onGatheringReply(ctx, caseNumber, channelID, threadID, text)
	case StatePendingApproval:
		return m.onApprovalReply(ctx, caseNumber, channelID, threadID, text)
	default:
		return nil
	}
}

func (m *Machine) onGatheringReply(ctx context.Context, caseNumber, channelID, threadID, text string) error {
	answers := m.parser.Parse(text)
	if len(answers) > 0 {
		m.logger.Info(ctx, "parsed follow-up answers", "case_number", caseNumber, "answers", len(answers))
	}

	cc, ok := m.tracker.Snapshot(caseNumber, threadID)
	if !ok {
		m.remove(caseNumber, threadID)
		return fmt.Errorf("conversation expired for case %s", caseNumber)
	}

	as, err := m.assessor.Assess(ctx, cc)
	if err != nil {
		return fmt.Errorf("re-assessment: %w", err)
	}

	if as.Decision == DecisionHighQuality {
		m.setState(caseNumber, channelID, threadID, StateGenerating, 0, as)
		return m.generate(ctx, caseNumber, channelID, threadID, cc)
	}

	// Still short on detail: either ask again or give up.
	m.mu.Lock()
	st, ok := m.states[contextKey(caseNumber, threadID)]
	var attempts int
	if ok {
		st.AttemptCount++
		st.AssessmentScore = as.Score
		st.MissingInfo = append([]string(nil), as.MissingInfo...)
		st.LastUpdated = m.now()
		attempts = st.AttemptCount
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if attempts >= m.opts.MaxAttempts {
		m.remove(caseNumber, threadID)
		m.logger.Info(ctx, "gathering abandoned after max attempts", "case_number", caseNumber, "attempts", attempts)
		return m.post(ctx, channelID, threadID,
			"I still don't have enough detail for a knowledge article after several rounds, so I'll stop here.")
	}
	return m.askFollowUp(ctx, caseNumber, channelID, threadID, as.MissingInfo)
}

func (m *Machine) onApprovalReply(ctx context.Context, caseNumber, channelID, threadID, text string) error {
	switch {
	case isAffirmative(text):
		art := m.draftFor(caseNumber, threadID)
		m.remove(caseNumber, threadID)
		m.logger.Info(ctx, "article approved", "case_number", caseNumber)
		if m.publisher != nil && art != nil {
			if err := m.publisher.Publish(ctx, caseNumber, art); err != nil {
				m.logger.Error(ctx, err, "article publish failed", "case_number", caseNumber)
			}
		}
		return m.post(ctx, channelID, threadID, "Knowledge article published.")

	case isNegative(text):
		m.remove(caseNumber, threadID)
		m.logger.Info(ctx, "article rejected", "case_number", caseNumber)
		return m.post(ctx, channelID, threadID, "Understood, discarding the draft.")
	}
	return nil
}

// generate runs duplicate detection and article synthesis. The state
// record is already in GENERATING when this is called.
func (m *Machine) generate(ctx context.Context, caseNumber, channelID, threadID string, cc *CaseContext) error {
	art, err := m.generator.Generate(ctx, cc)
	if err != nil {
		m.remove(caseNumber, threadID)
		return fmt.Errorf("article generation: %w", err)
	}

	if m.finder != nil {
		similar, err := m.finder.FindSimilar(ctx, art.Title)
		if err != nil {
			m.logger.Warn(ctx, "similar-article lookup failed, continuing", "case_number", caseNumber, "error", err.Error())
		} else if len(similar) > 0 {
			m.remove(caseNumber, threadID)
			m.logger.Info(ctx, "duplicate article found, abandoning", "case_number", caseNumber, "existing", similar[0])
			return m.post(ctx, channelID, threadID,
				fmt.Sprintf("A similar article already exists (%s), so I won't create a duplicate.", similar[0]))
		}
	}

	if m.opts.RequireApproval {
		m.storeDraft(caseNumber, threadID, art)
		m.transition(caseNumber, threadID, StatePendingApproval)
		return m.post(ctx, channelID, threadID,
			fmt.Sprintf("Draft article ready for review:\n*%s*\n\n%s\n\nReply \"approve\" to publish or \"reject\" to discard.", art.Title, art.Body))
	}

	m.remove(caseNumber, threadID)
	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, caseNumber, art); err != nil {
			m.logger.Error(ctx, err, "article publish failed", "case_number", caseNumber)
			return m.post(ctx, channelID, threadID, "Article generation succeeded but publishing failed; see logs.")
		}
	}
	m.logger.Info(ctx, "article completed", "case_number", caseNumber, "title", art.Title)
	return m.post(ctx, channelID, threadID, fmt.Sprintf("Knowledge article published: %s", art.Title))
}

// SweepTimeouts abandons gathering sessions idle past the timeout,
// posting a notice to each thread. Returns how many were abandoned.
// Safe to run concurrently with in-flight transitions.
func (m *Machine) SweepTimeouts(ctx context.Context) int {
	cutoff := m.now().Add(-m.opts.GatherTimeout)

	type expired struct {
		caseNumber, channelID, threadID string
	}
	var victims []expired

	m.mu.Lock()
	for key, st := range m.states {
		if (st.State == StateGathering || st.State == StatePendingApproval) && st.LastUpdated.Before(cutoff) {
			victims = append(victims, expired{st.CaseNumber, st.ChannelID, st.ThreadID})
			delete(m.states, key)
			delete(m.drafts, key)
		}
	}
	m.mu.Unlock()

	for _, v := range victims {
		m.logger.Info(ctx, "gathering timed out", "case_number", v.caseNumber, "thread_id", v.threadID)
		if err := m.post(ctx, v.channelID, v.threadID,
			"No reply received in 24 hours, so I'm abandoning the knowledge article for this case."); err != nil {
			m.logger.Error(ctx, err, "timeout notice failed", "case_number", v.caseNumber)
		}
	}
	return len(victims)
}

func (m *Machine) setState(caseNumber, channelID, threadID string, s State, attempts int, as *Assessment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[contextKey(caseNumber, threadID)] = &GenState{
		CaseNumber:      caseNumber,
		ChannelID:       channelID,
		ThreadID:        threadID,
		State:           s,
		AttemptCount:    attempts,
		AssessmentScore: as.Score,
		MissingInfo:     append([]string(nil), as.MissingInfo...),
		LastUpdated:     m.now(),
	}
}

func (m *Machine) transition(caseNumber, threadID string, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[contextKey(caseNumber, threadID)]; ok {
		st.State = s
		st.LastUpdated = m.now()
	}
}

func (m *Machine) remove(caseNumber, threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, contextKey(caseNumber, threadID))
	delete(m.drafts, contextKey(caseNumber, threadID))
}

func (m *Machine) askFollowUp(ctx context.Context, caseNumber, channelID, threadID string, missing []string) error {
	var sb strings.Builder
	if cc, ok := m.tracker.Snapshot(caseNumber, threadID); ok && cc.Notified {
		sb.WriteString("Thanks, but a few details are still missing:\n")
	} else {
		sb.WriteString("A few details are missing before I can write this up as a knowledge article. Reply in this thread using the question numbers:\n")
		m.tracker.MarkNotified(caseNumber, threadID)
	}
	for i, item := range missing {
		fmt.Fprintf(&sb, "Q%d: %s\n", i+1, item)
	}
	return m.post(ctx, channelID, threadID, sb.String())
}

func (m *Machine) post(ctx context.Context, channelID, threadID, text string) error {
	if m.messenger == nil {
		return nil
	}
	return m.messenger.PostToThread(ctx, channelID, threadID, text)
}

func (m *Machine) storeDraft(caseNumber, threadID string, art *Article) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[contextKey(caseNumber, threadID)] = art
}

func (m *Machine) draftFor(caseNumber, threadID string) *Article {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drafts[contextKey(caseNumber, threadID)]
}

func isAffirmative(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "approve", "approved", "yes", "lgtm", "publish":
		return true
	}
	return false
}

func isNegative(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "reject", "rejected", "no", "discard":
		return true
	}
	return false
}
