package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"speaking_backend/internal/config"
	"speaking_backend/internal/model"
	"speaking_backend/internal/repository"
	"speaking_backend/internal/util"
	"speaking_backend/pkg/database"

	"gorm.io/gorm"
)

type stubAudio struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *stubAudio) Store(ctx context.Context, upload AudioUpload, owner string) (*AudioAsset, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	key := "speaking/audio/" + owner + "/clip.mp3"
	return &AudioAsset{Key: key, URL: "https://cdn.test/" + key, RawKey: key}, nil
}

type stubAnalyzer struct {
	mu     sync.Mutex
	calls  int
	delay  time.Duration
	result SpeechAnalysisResult
}

func (s *stubAnalyzer) Analyze(ctx context.Context, audioURL, referenceText, languageHint string) SpeechAnalysisResult {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.result
}

func (a *stubAudio) OwnsURL(raw string) bool {
	return strings.HasPrefix(raw, "https://cdn.test/")
}

func (s *stubAnalyzer) Transcribe(ctx context.Context, audioURL, languageHint string) (string, error) {
	return s.result.Transcript, nil
}

func (s *stubAnalyzer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubNlp struct {
	mu     sync.Mutex
	calls  int
	scores NlpScores
}

func (n *stubNlp) Score(ctx context.Context, req NlpRequest) NlpScores {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return n.scores
}

type speakingFixture struct {
	svc    *SpeakingService
	db     *gorm.DB
	audio  *stubAudio
	speech *stubAnalyzer
	nlp    *stubNlp
}

func newSpeakingFixture(t *testing.T) *speakingFixture {
	t.Helper()
	db, err := database.InitDB(&config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     filepath.Join(t.TempDir(), "speaking.db"),
		LogLevel: "silent",
	})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &speakingFixture{
		db:    db,
		audio: &stubAudio{},
		speech: &stubAnalyzer{result: SpeechAnalysisResult{
			Outcome:       OutcomeOK,
			Transcript:    "the quick brown fox jumps",
			Pronunciation: 90,
			Accuracy:      80,
			Fluency:       85,
			Completeness:  95,
			Attempts:      1,
		}},
		nlp: &stubNlp{scores: NlpScores{Grammar: 50, Vocabulary: 50, Content: 0}},
	}
	f.svc = NewSpeakingService(
		repository.NewExamAttemptRepository(db),
		repository.NewQuestionRepository(db),
		repository.NewSpeakingAnswerRepository(db),
		f.audio, f.speech, f.nlp,
		NewScoringWeightService(config.ScoringConfig{}),
		nil,
	)
	return f
}

func (f *speakingFixture) question(t *testing.T, examID uint, part string) *model.Question {
	t.Helper()
	q := &model.Question{ExamID: examID, PartCode: part, Prompt: "Read the text aloud", SampleAnswer: "The quick brown fox jumps.", ScoreWeight: 3}
	if err := f.svc.Questions.Create(q); err != nil {
		t.Fatalf("create question: %v", err)
	}
	return q
}

func (f *speakingFixture) attempt(t *testing.T, userID, examID uint) *model.ExamAttempt {
	t.Helper()
	a, _, err := f.svc.Attempts.FindOrCreateOpen(userID, examID)
	if err != nil {
		t.Fatalf("open attempt: %v", err)
	}
	return a
}

func audioUpload() AudioUpload {
	return AudioUpload{Filename: "answer.mp3", Size: 4, Reader: strings.NewReader("ID3x")}
}

func TestSubmitAnswerScoresAndPersists(t *testing.T) {
	f := newSpeakingFixture(t)
	q := f.question(t, 1, model.PartReadAloud)
	a := f.attempt(t, 10, 1)

	res := f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: a.ID, QuestionID: q.ID, UserID: 10, Audio: audioUpload()})
	if !res.Success || res.IsDuplicate {
		t.Fatalf("result = %+v", res)
	}
	if res.Result.OverallScore != 83.3 {
		t.Errorf("overall = %v, want 83.3", res.Result.OverallScore)
	}
	if res.Result.RawBand != 3 || res.Result.MaxBand != 3 {
		t.Errorf("band = %d/%d, want 3/3", res.Result.RawBand, res.Result.MaxBand)
	}

	stored, err := f.svc.Answers.FindByAttemptAndQuestion(a.ID, q.ID)
	if err != nil || stored == nil {
		t.Fatalf("stored answer = %v, %v", stored, err)
	}
	if stored.Transcript != "the quick brown fox jumps" || stored.CompletenessScore != 95 {
		t.Errorf("stored = %+v", stored)
	}
	if !strings.HasPrefix(stored.AudioURL, "https://cdn.test/speaking/audio/attempt-") {
		t.Errorf("audio url = %q", stored.AudioURL)
	}
	if !strings.Contains(string(stored.ScoringDetail), `"pronunciation":0.5`) {
		t.Errorf("scoring detail missing weight snapshot: %s", stored.ScoringDetail)
	}
}

func TestSubmitAnswerIsIdempotent(t *testing.T) {
	f := newSpeakingFixture(t)
	q := f.question(t, 1, model.PartReadAloud)
	a := f.attempt(t, 10, 1)
	req := SubmitRequest{AttemptID: a.ID, QuestionID: q.ID, UserID: 10, Audio: audioUpload()}

	first := f.svc.SubmitAnswer(context.Background(), req)
	if !first.Success {
		t.Fatalf("first submit: %+v", first)
	}

	// 第二次提交即使识别结果变化也不得改写记录
	f.speech.result.Pronunciation = 10
	req.Audio = audioUpload()
	second := f.svc.SubmitAnswer(context.Background(), req)
	if !second.Success || !second.IsDuplicate {
		t.Fatalf("second submit: %+v", second)
	}
	if second.Result.AnswerID != first.Result.AnswerID || second.Result.OverallScore != first.Result.OverallScore {
		t.Errorf("duplicate returned %+v, want %+v", second.Result, first.Result)
	}
	if f.audio.calls != 1 || f.speech.count() != 1 || f.nlp.calls != 1 {
		t.Errorf("collaborators re-invoked: audio=%d speech=%d nlp=%d", f.audio.calls, f.speech.count(), f.nlp.calls)
	}
}

func TestSubmitAnswerValidation(t *testing.T) {
	f := newSpeakingFixture(t)
	q := f.question(t, 1, model.PartReadAloud)
	open := f.attempt(t, 10, 1)
	done := f.attempt(t, 11, 1)
	if err := f.svc.Attempts.Complete(done.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	tests := []struct {
		name      string
		attemptID uint
		userID    uint
		want      ErrorKind
	}{
		{"not found", 9999, 10, ErrorKindNotFound},
		{"forbidden", open.ID, 77, ErrorKindForbidden},
		{"already completed", done.ID, 11, ErrorKindAlreadyCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: tt.attemptID, QuestionID: q.ID, UserID: tt.userID, Audio: audioUpload()})
			if res.Success || res.ErrorKind != tt.want || res.ErrorMessage == "" {
				t.Errorf("result = %+v, want kind %s", res, tt.want)
			}
			kind, _ := f.svc.ValidateAttempt(tt.attemptID, tt.userID)
			if kind != tt.want {
				t.Errorf("ValidateAttempt kind = %s, want %s", kind, tt.want)
			}
		})
	}

	if kind, err := f.svc.ValidateAttempt(open.ID, 10); kind != ErrorKindNone || err != nil {
		t.Errorf("valid attempt: kind=%s err=%v", kind, err)
	}
	if f.audio.calls != 0 || f.speech.count() != 0 {
		t.Error("rejected submissions must not reach the pipeline")
	}
}

func TestSubmitAnswerFailures(t *testing.T) {
	f := newSpeakingFixture(t)
	q := f.question(t, 1, model.PartReadAloud)
	a := f.attempt(t, 10, 1)

	res := f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: a.ID, QuestionID: 4242, UserID: 10, Audio: audioUpload()})
	if res.Success || res.ErrorKind != ErrorKindNotFound {
		t.Errorf("missing question: %+v", res)
	}

	f.audio.err = util.ErrUnsupportedAudio
	res = f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: a.ID, QuestionID: q.ID, UserID: 10, Audio: audioUpload()})
	if res.Success || res.ErrorKind != ErrorKindInvalid {
		t.Errorf("bad audio: %+v", res)
	}

	f.audio.err = errors.New("bucket unavailable")
	res = f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: a.ID, QuestionID: q.ID, UserID: 10, Audio: audioUpload()})
	if res.Success || res.ErrorKind != ErrorKindInternal || !strings.Contains(res.ErrorMessage, "bucket unavailable") {
		t.Errorf("storage failure: %+v", res)
	}

	// 失败后可以重新提交
	f.audio.err = nil
	res = f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: a.ID, QuestionID: q.ID, UserID: 10, Audio: audioUpload()})
	if !res.Success || res.IsDuplicate {
		t.Errorf("resubmission after failure: %+v", res)
	}
}

func TestSubmitAnswerNoSpeechStillScores(t *testing.T) {
	f := newSpeakingFixture(t)
	q := f.question(t, 1, model.PartRespondQuestions)
	a := f.attempt(t, 10, 1)
	f.speech.result = SpeechAnalysisResult{Outcome: OutcomeDegraded, Pronunciation: 70, Accuracy: 70, Fluency: 70, Completeness: 70, Attempts: 3}
	f.nlp.scores = NlpScores{Grammar: 30, Vocabulary: 30, Content: 30, Fallback: true}

	res := f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: a.ID, QuestionID: q.ID, UserID: 10, Audio: audioUpload()})
	if !res.Success {
		t.Fatalf("degraded dependencies must not fail the submission: %+v", res)
	}
	if !res.Result.SpeechDegraded || !res.Result.NLPFallback {
		t.Errorf("flags = %+v", res.Result)
	}
}

func TestSubmitAnswerConcurrent(t *testing.T) {
	f := newSpeakingFixture(t)
	q := f.question(t, 1, model.PartReadAloud)
	a := f.attempt(t, 10, 1)
	f.speech.delay = 20 * time.Millisecond

	const callers = 6
	results := make([]SubmitResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: a.ID, QuestionID: q.ID, UserID: 10, Audio: audioUpload()})
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i, r := range results {
		if !r.Success {
			t.Fatalf("caller %d failed: %+v", i, r)
		}
		if !r.IsDuplicate {
			fresh++
		}
		if r.Result.AnswerID != results[0].Result.AnswerID {
			t.Errorf("caller %d got answer %d, want %d", i, r.Result.AnswerID, results[0].Result.AnswerID)
		}
	}
	if fresh != 1 {
		t.Errorf("non-duplicate results = %d, want 1", fresh)
	}
	if f.speech.count() != 1 {
		t.Errorf("speech analysis ran %d times, want 1", f.speech.count())
	}

	answers, _ := f.svc.Answers.ListByAttempt(a.ID)
	if len(answers) != 1 {
		t.Errorf("stored answers = %d, want 1", len(answers))
	}
}

func TestSubmitAnswerWithAutoAttempt(t *testing.T) {
	f := newSpeakingFixture(t)
	q1 := f.question(t, 5, model.PartReadAloud)
	q2 := f.question(t, 5, model.PartDescribePicture)

	var wg sync.WaitGroup
	results := make([]SubmitResult, 2)
	for i, q := range []*model.Question{q1, q2} {
		wg.Add(1)
		go func(i int, qid uint) {
			defer wg.Done()
			results[i] = f.svc.SubmitAnswerWithAutoAttempt(context.Background(), SubmitRequest{QuestionID: qid, UserID: 3, Audio: audioUpload()})
		}(i, q.ID)
	}
	wg.Wait()

	for i, r := range results {
		if !r.Success {
			t.Fatalf("submit %d: %+v", i, r)
		}
	}
	if results[0].AttemptID == 0 || results[0].AttemptID != results[1].AttemptID {
		t.Errorf("attempt ids = %d, %d; want one shared attempt", results[0].AttemptID, results[1].AttemptID)
	}
	count, err := f.svc.Attempts.CountOpen(3, 5)
	if err != nil || count != 1 {
		t.Errorf("open attempts = %d (%v), want 1", count, err)
	}

	missing := f.svc.SubmitAnswerWithAutoAttempt(context.Background(), SubmitRequest{QuestionID: 999, UserID: 3, Audio: audioUpload()})
	if missing.Success || missing.ErrorKind != ErrorKindNotFound {
		t.Errorf("unknown question: %+v", missing)
	}
}

func TestCompleteAttemptStartsFreshAttempt(t *testing.T) {
	f := newSpeakingFixture(t)
	q := f.question(t, 2, model.PartReadAloud)

	first := f.svc.SubmitAnswerWithAutoAttempt(context.Background(), SubmitRequest{QuestionID: q.ID, UserID: 4, Audio: audioUpload()})
	if !first.Success {
		t.Fatalf("submit: %+v", first)
	}

	if _, err := f.svc.CompleteAttempt(first.AttemptID, 99); !errors.Is(err, util.ErrAttemptForbidden) {
		t.Errorf("complete by other user err = %v", err)
	}
	completed, err := f.svc.CompleteAttempt(first.AttemptID, 4)
	if err != nil {
		t.Fatalf("CompleteAttempt: %v", err)
	}
	if !completed.IsCompleted() {
		t.Errorf("status = %s", completed.Status)
	}
	if _, err := f.svc.CompleteAttempt(first.AttemptID, 4); !errors.Is(err, util.ErrAttemptCompleted) {
		t.Errorf("second complete err = %v", err)
	}

	again := f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: first.AttemptID, QuestionID: q.ID, UserID: 4, Audio: audioUpload()})
	if again.ErrorKind != ErrorKindAlreadyCompleted {
		t.Errorf("submit to completed attempt: %+v", again)
	}

	next := f.svc.SubmitAnswerWithAutoAttempt(context.Background(), SubmitRequest{QuestionID: q.ID, UserID: 4, Audio: audioUpload()})
	if !next.Success || next.IsDuplicate || next.AttemptID == first.AttemptID {
		t.Errorf("expected a fresh attempt, got %+v", next)
	}
}

func TestGetAttemptSummary(t *testing.T) {
	f := newSpeakingFixture(t)
	read := f.question(t, 1, model.PartReadAloud)
	opinion := f.question(t, 1, model.PartExpressOpinion)
	opinion.ScoreWeight = 5
	f.db.Save(opinion)
	a := f.attempt(t, 10, 1)

	f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: a.ID, QuestionID: read.ID, UserID: 10, Audio: audioUpload()})
	// 观点题：全部 30 分，缩放后 50.1 → 第 3 档（共 5 档）
	f.speech.result = SpeechAnalysisResult{Outcome: OutcomeOK, Transcript: "i think so", Pronunciation: 30, Accuracy: 30, Fluency: 30, Completeness: 30}
	f.nlp.scores = NlpScores{Grammar: 30, Vocabulary: 30, Content: 30}
	f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: a.ID, QuestionID: opinion.ID, UserID: 10, Audio: audioUpload()})

	summary, err := f.svc.GetAttemptSummary(a.ID, 10)
	if err != nil {
		t.Fatalf("GetAttemptSummary: %v", err)
	}
	if summary.Answered != 2 {
		t.Fatalf("answered = %d", summary.Answered)
	}
	byQuestion := map[uint]AnswerSummary{}
	for _, s := range summary.Answers {
		byQuestion[s.QuestionID] = s
	}
	if got := byQuestion[read.ID]; got.RawBand != 3 || got.EarnedScore != 3 {
		t.Errorf("read aloud summary = %+v", got)
	}
	if got := byQuestion[opinion.ID]; got.OverallScore != 50.1 || got.RawBand != 3 || got.MaxBand != 5 || got.EarnedScore != 3 {
		t.Errorf("opinion summary = %+v", got)
	}
	if summary.TotalEarned != 6 || summary.TotalPossible != 8 {
		t.Errorf("totals = %v / %v", summary.TotalEarned, summary.TotalPossible)
	}
	if summary.AverageOverall != 66.7 {
		t.Errorf("average = %v, want 66.7", summary.AverageOverall)
	}

	if _, err := f.svc.GetAttemptSummary(a.ID, 11); !errors.Is(err, util.ErrAttemptForbidden) {
		t.Errorf("foreign summary err = %v", err)
	}
}

func TestRescoreReportsDriftWithoutWriting(t *testing.T) {
	f := newSpeakingFixture(t)
	q := f.question(t, 1, model.PartReadAloud)
	a := f.attempt(t, 10, 1)
	f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: a.ID, QuestionID: q.ID, UserID: 10, Audio: audioUpload()})

	report, err := f.svc.Rescore(a.ID)
	if err != nil {
		t.Fatalf("Rescore: %v", err)
	}
	if report.Checked != 1 || len(report.Drifted) != 0 {
		t.Errorf("clean report = %+v", report)
	}

	tampered := &model.SpeakingAnswer{AttemptID: a.ID, QuestionID: 777, PartCode: model.PartReadAloud,
		PronunciationScore: 90, AccuracyScore: 80, FluencyScore: 85, GrammarScore: 50, VocabularyScore: 50, OverallScore: 70}
	if err := f.db.Create(tampered).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}

	report, err = f.svc.Rescore(0)
	if err != nil {
		t.Fatalf("Rescore: %v", err)
	}
	if report.Checked != 2 || len(report.Drifted) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if d := report.Drifted[0]; d.AnswerID != tampered.ID || d.Stored != 70 || d.Recomputed != 83.3 {
		t.Errorf("drift = %+v", d)
	}

	var reloaded model.SpeakingAnswer
	f.db.First(&reloaded, tampered.ID)
	if reloaded.OverallScore != 70 {
		t.Error("rescore must not modify stored answers")
	}
}

func TestSubmitAnswerLockHeldElsewhere(t *testing.T) {
	tests := []struct {
		name string
		// otherInstance 在持锁期间的行为
		otherInstance func(f *speakingFixture, a *model.ExamAttempt, q *model.Question, release func())
		wantSuccess   bool
		wantDuplicate bool
		wantKind      ErrorKind
		wantSpeech    int
	}{
		{
			name: "other instance stores the answer",
			otherInstance: func(f *speakingFixture, a *model.ExamAttempt, q *model.Question, release func()) {
				time.Sleep(30 * time.Millisecond)
				f.svc.Answers.CreateIfAbsent(&model.SpeakingAnswer{
					AttemptID:    a.ID,
					QuestionID:   q.ID,
					PartCode:     q.PartCode,
					Transcript:   "stored by the winner",
					OverallScore: 77,
					SubmittedAt:  time.Now(),
				})
				time.Sleep(30 * time.Millisecond)
				release()
			},
			wantSuccess:   true,
			wantDuplicate: true,
			wantSpeech:    0,
		},
		{
			name: "other instance gives up without storing",
			otherInstance: func(f *speakingFixture, a *model.ExamAttempt, q *model.Question, release func()) {
				time.Sleep(30 * time.Millisecond)
				release()
			},
			wantSuccess:   true,
			wantDuplicate: false,
			wantSpeech:    1,
		},
		{
			name:          "other instance outlasts the wait",
			otherInstance: func(*speakingFixture, *model.ExamAttempt, *model.Question, func()) {},
			wantSuccess:   false,
			wantKind:      ErrorKindInProgress,
			wantSpeech:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSpeakingFixture(t)
			_, client := newTestRedis(t)
			f.svc.Lock = NewRedisSubmissionLock(client, time.Minute)
			f.svc.LockWait = 300 * time.Millisecond
			f.svc.LockPollInterval = 10 * time.Millisecond
			q := f.question(t, 1, model.PartReadAloud)
			a := f.attempt(t, 10, 1)

			release, err := NewRedisSubmissionLock(client, time.Minute).Acquire(context.Background(), a.ID, q.ID)
			if err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			done := make(chan struct{})
			go func() {
				defer close(done)
				tt.otherInstance(f, a, q, release)
			}()

			res := f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: a.ID, QuestionID: q.ID, UserID: 10, Audio: audioUpload()})
			<-done

			if res.Success != tt.wantSuccess || res.IsDuplicate != tt.wantDuplicate || res.ErrorKind != tt.wantKind {
				t.Fatalf("result = %+v", res)
			}
			if got := f.speech.count(); got != tt.wantSpeech {
				t.Errorf("speech analysis ran %d times, want %d", got, tt.wantSpeech)
			}
			if tt.wantDuplicate && res.Result.Transcript != "stored by the winner" {
				t.Errorf("transcript = %q, want the stored record", res.Result.Transcript)
			}
		})
	}
}

func TestSubmitAnswerSurvivesCallerCancel(t *testing.T) {
	f := newSpeakingFixture(t)
	cfg := testSpeechConfig()
	cfg.SessionTimeout = 150 * time.Millisecond
	rec := &stubRecognizer{
		segments:      [][]string{{"a perfectly good answer here"}},
		blockUntilCtx: true,
		scores:        &PronunciationScores{Accuracy: 80, Fluency: 80, Completeness: 80, Pronunciation: 80},
	}
	f.svc.Speech = NewSpeechService(rec, nil, cfg).WithSleep((&sleepRecorder{}).sleep)
	q := f.question(t, 1, model.PartReadAloud)
	a := f.attempt(t, 10, 1)

	// 调用方在识别进行中断开
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res := f.svc.SubmitAnswer(ctx, SubmitRequest{AttemptID: a.ID, QuestionID: q.ID, UserID: 10, Audio: audioUpload()})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.Result.Transcript != "a perfectly good answer here" || res.Result.SpeechDegraded {
		t.Errorf("stored result = %+v", res.Result)
	}
	if rec.transcribeCalls != 1 {
		t.Errorf("transcribe calls = %d, want 1", rec.transcribeCalls)
	}

	again := f.svc.SubmitAnswer(context.Background(), SubmitRequest{AttemptID: a.ID, QuestionID: q.ID, UserID: 10, Audio: audioUpload()})
	if !again.IsDuplicate || again.Result.Transcript != "a perfectly good answer here" {
		t.Errorf("resubmission = %+v", again.Result)
	}
}

func TestRecognizeSpeechRejectsForeignURL(t *testing.T) {
	f := newSpeakingFixture(t)

	if _, err := f.svc.RecognizeSpeech(context.Background(), "http://169.254.169.254/latest", ""); !errors.Is(err, util.ErrForeignAudioURL) {
		t.Errorf("err = %v, want ErrForeignAudioURL", err)
	}
	got, err := f.svc.RecognizeSpeech(context.Background(), "https://cdn.test/speaking/audio/a.mp3", "")
	if err != nil || got != "the quick brown fox jumps" {
		t.Errorf("got %q, %v", got, err)
	}
	if ClassifyError(util.ErrForeignAudioURL) != ErrorKindInvalid {
		t.Error("foreign url should classify as invalid_request")
	}
}
