package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"speaking_backend/internal/config"
)

type stubRecognizer struct {
	mu sync.Mutex

	// segments 按调用次序返回，超出后重复最后一项
	segments      [][]string
	transcribeErr error
	blockUntilCtx bool

	scores    *PronunciationScores
	assessErr error

	transcribeCalls int
	assessCalls     int
	assessRefs      []string
}

func (r *stubRecognizer) Transcribe(ctx context.Context, audioURL, language string, onSegment func(string)) error {
	r.mu.Lock()
	idx := r.transcribeCalls
	r.transcribeCalls++
	var segs []string
	if len(r.segments) > 0 {
		if idx >= len(r.segments) {
			idx = len(r.segments) - 1
		}
		segs = r.segments[idx]
	}
	r.mu.Unlock()

	for _, s := range segs {
		onSegment(s)
	}
	if r.blockUntilCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	return r.transcribeErr
}

func (r *stubRecognizer) AssessPronunciation(ctx context.Context, audioURL, referenceText, language string) (*PronunciationScores, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assessCalls++
	r.assessRefs = append(r.assessRefs, referenceText)
	if r.assessErr != nil {
		return nil, r.assessErr
	}
	return r.scores, nil
}

type stubProbe struct {
	readyAfter int
	calls      int
}

func (p *stubProbe) Ready(ctx context.Context, audioURL string) (bool, error) {
	p.calls++
	return p.calls > p.readyAfter, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testSpeechConfig() config.SpeechConfig {
	return config.SpeechConfig{
		Language:          "en-GB",
		SessionTimeout:    time.Second,
		AssessTimeout:     time.Second,
		MaxAttempts:       3,
		RetryBaseDelay:    500 * time.Millisecond,
		ReadinessAttempts: 5,
		ReadinessInterval: 500 * time.Millisecond,
		FallbackScore:     70,
	}
}

func TestAnalyzeTwoPass(t *testing.T) {
	rec := &stubRecognizer{
		segments: [][]string{{"Hello, World.", "  I am  here! "}},
		scores:   &PronunciationScores{Accuracy: 91, Fluency: 84, Completeness: 100, Pronunciation: 88.4},
	}
	sleeps := &sleepRecorder{}
	svc := NewSpeechService(rec, &stubProbe{}, testSpeechConfig()).WithSleep(sleeps.sleep)

	got := svc.Analyze(context.Background(), "https://cdn.test/a.mp3", "a reference text", "")
	if got.Outcome != OutcomeOK {
		t.Fatalf("outcome = %s, err = %v", got.Outcome, got.Err)
	}
	if got.Transcript != "Hello, World. I am  here!" {
		t.Errorf("transcript = %q", got.Transcript)
	}
	if got.Pronunciation != 88.4 || got.Accuracy != 91 || got.Fluency != 84 || got.Completeness != 100 {
		t.Errorf("scores = %+v", got)
	}
	if len(rec.assessRefs) != 1 || rec.assessRefs[0] != "hello world i am here" {
		t.Errorf("assessment target = %v, want normalized pass-1 transcript", rec.assessRefs)
	}
	if got.Attempts != 1 || len(sleeps.delays) != 0 {
		t.Errorf("attempts = %d, sleeps = %v", got.Attempts, sleeps.delays)
	}
}

func TestAnalyzePass2FailureDegrades(t *testing.T) {
	rec := &stubRecognizer{
		segments:  [][]string{{"the cat sat on the mat"}},
		assessErr: errors.New("provider error"),
	}
	svc := NewSpeechService(rec, nil, testSpeechConfig()).WithSleep((&sleepRecorder{}).sleep)

	got := svc.Analyze(context.Background(), "https://cdn.test/a.mp3", "", "")
	if got.Outcome != OutcomeDegraded {
		t.Fatalf("outcome = %s", got.Outcome)
	}
	if got.Transcript != "the cat sat on the mat" {
		t.Errorf("transcript = %q", got.Transcript)
	}
	for name, v := range map[string]float64{
		"pronunciation": got.Pronunciation, "accuracy": got.Accuracy,
		"fluency": got.Fluency, "completeness": got.Completeness,
	} {
		if v != 70 {
			t.Errorf("%s = %v, want 70", name, v)
		}
	}
	if !got.HasSpeech() {
		t.Error("degraded result with a transcript still has speech")
	}
	if rec.transcribeCalls != 1 {
		t.Errorf("a usable transcript must not be retried, got %d calls", rec.transcribeCalls)
	}
}

func TestAnalyzeRetryTermination(t *testing.T) {
	tests := []struct {
		name     string
		segments [][]string
		err      error
	}{
		{"always empty", [][]string{nil}, nil},
		{"placeholder", [][]string{{"."}}, nil},
		{"hard failure", [][]string{{"discarded"}}, errors.New("canceled")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &stubRecognizer{segments: tt.segments, transcribeErr: tt.err, scores: &PronunciationScores{}}
			sleeps := &sleepRecorder{}
			svc := NewSpeechService(rec, nil, testSpeechConfig()).WithSleep(sleeps.sleep)

			got := svc.Analyze(context.Background(), "https://cdn.test/a.mp3", "ref", "en-US")
			if rec.transcribeCalls != 3 {
				t.Errorf("transcribe calls = %d, want 3", rec.transcribeCalls)
			}
			if rec.assessCalls != 0 {
				t.Errorf("assessment should be skipped without a transcript, got %d calls", rec.assessCalls)
			}
			if got.HasSpeech() || got.Outcome != OutcomeDegraded || got.Attempts != 3 {
				t.Errorf("got %+v", got)
			}
			if got.Pronunciation != 70 {
				t.Errorf("pronunciation = %v, want default", got.Pronunciation)
			}
			want := []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond}
			if len(sleeps.delays) != len(want) || sleeps.delays[0] != want[0] || sleeps.delays[1] != want[1] {
				t.Errorf("backoff = %v, want %v", sleeps.delays, want)
			}
		})
	}
}

func TestAnalyzeRecoversOnRetry(t *testing.T) {
	rec := &stubRecognizer{
		segments: [][]string{nil, {"second try works"}},
		scores:   &PronunciationScores{Accuracy: 80, Fluency: 80, Completeness: 80, Pronunciation: 80},
	}
	svc := NewSpeechService(rec, nil, testSpeechConfig()).WithSleep((&sleepRecorder{}).sleep)

	got := svc.Analyze(context.Background(), "https://cdn.test/a.mp3", "", "")
	if got.Outcome != OutcomeOK || got.Attempts != 2 || got.Transcript != "second try works" {
		t.Errorf("got %+v", got)
	}
}

func TestAnalyzeSessionTimeoutKeepsSegments(t *testing.T) {
	cfg := testSpeechConfig()
	cfg.SessionTimeout = 20 * time.Millisecond
	rec := &stubRecognizer{
		segments:      [][]string{{"partial", "answer"}},
		blockUntilCtx: true,
		scores:        &PronunciationScores{Accuracy: 60, Fluency: 60, Completeness: 60, Pronunciation: 60},
	}
	svc := NewSpeechService(rec, nil, cfg).WithSleep((&sleepRecorder{}).sleep)

	got := svc.Analyze(context.Background(), "https://cdn.test/a.mp3", "", "")
	if got.Outcome != OutcomeOK || got.Transcript != "partial answer" {
		t.Errorf("got %+v", got)
	}
}

func TestReadinessGuard(t *testing.T) {
	tests := []struct {
		name       string
		readyAfter int
		wantPolls  int
		wantSleeps int
	}{
		{"ready immediately", 0, 1, 0},
		{"ready on third poll", 2, 3, 2},
		{"never ready", 100, 5, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := &stubProbe{readyAfter: tt.readyAfter}
			sleeps := &sleepRecorder{}
			rec := &stubRecognizer{
				segments: [][]string{{"hello there"}},
				scores:   &PronunciationScores{Accuracy: 80, Fluency: 80, Completeness: 80, Pronunciation: 80},
			}
			svc := NewSpeechService(rec, probe, testSpeechConfig()).WithSleep(sleeps.sleep)

			got := svc.Analyze(context.Background(), "https://cdn.test/a.mp3", "", "")
			if got.Outcome != OutcomeOK {
				t.Fatalf("a slow asset must not fail the analysis: %+v", got)
			}
			if probe.calls != tt.wantPolls {
				t.Errorf("polls = %d, want %d", probe.calls, tt.wantPolls)
			}
			if len(sleeps.delays) != tt.wantSleeps {
				t.Errorf("sleeps = %v, want %d", sleeps.delays, tt.wantSleeps)
			}
			for _, d := range sleeps.delays {
				if d != 500*time.Millisecond {
					t.Errorf("poll interval = %v", d)
				}
			}
		})
	}
}

// pollLog 记录每次轮询时识别器已被调用的次数
type pollLog struct {
	rec        *stubRecognizer
	readyAfter int
	calls      int
	seen       []int
}

func (p *pollLog) Ready(ctx context.Context, audioURL string) (bool, error) {
	p.rec.mu.Lock()
	p.seen = append(p.seen, p.rec.transcribeCalls)
	p.rec.mu.Unlock()
	p.calls++
	return p.calls%p.readyAfter == 0, nil
}

func TestReadinessGuardBeforeEveryRetry(t *testing.T) {
	rec := &stubRecognizer{segments: [][]string{nil}, scores: &PronunciationScores{}}
	// 每轮第二次轮询才就绪
	checker := &pollLog{rec: rec, readyAfter: 2}
	sleeps := &sleepRecorder{}
	svc := NewSpeechService(rec, checker, testSpeechConfig()).WithSleep(sleeps.sleep)

	got := svc.Analyze(context.Background(), "https://cdn.test/a.mp3", "", "")
	if got.HasSpeech() || got.Attempts != 3 || rec.transcribeCalls != 3 {
		t.Fatalf("got %+v after %d calls", got, rec.transcribeCalls)
	}

	want := []int{0, 0, 1, 1, 2, 2}
	if len(checker.seen) != len(want) {
		t.Fatalf("polls = %v, want %v", checker.seen, want)
	}
	for i := range want {
		if checker.seen[i] != want[i] {
			t.Errorf("poll %d saw %d transcriptions, want %d", i, checker.seen[i], want[i])
		}
	}

	// 轮询间隔与重试退避交替出现
	wantSleeps := []time.Duration{
		500 * time.Millisecond, 500 * time.Millisecond,
		500 * time.Millisecond, 1000 * time.Millisecond,
		500 * time.Millisecond,
	}
	if len(sleeps.delays) != len(wantSleeps) {
		t.Fatalf("sleeps = %v, want %v", sleeps.delays, wantSleeps)
	}
	for i := range wantSleeps {
		if sleeps.delays[i] != wantSleeps[i] {
			t.Errorf("sleep %d = %v, want %v", i, sleeps.delays[i], wantSleeps[i])
		}
	}
}

func TestTranscribeOnly(t *testing.T) {
	rec := &stubRecognizer{segments: [][]string{{"just", "text"}}}
	svc := NewSpeechService(rec, nil, testSpeechConfig())

	got, err := svc.Transcribe(context.Background(), "https://cdn.test/a.mp3", "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "just text" || rec.assessCalls != 0 {
		t.Errorf("got %q, assess calls %d", got, rec.assessCalls)
	}
}
