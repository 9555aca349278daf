package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/jarvis/internal/intent"
	"github.com/ent0n29/jarvis/internal/observability"
	"github.com/ent0n29/jarvis/internal/provider"
	"github.com/ent0n29/jarvis/internal/settings"
)

type fakeCompleter struct {
	mu      sync.Mutex
	calls   atomic.Int32
	answer  string
	err     error
	release chan struct{}
	started chan struct{}
	configs []provider.Config
	queries []string
}

func (f *fakeCompleter) Complete(ctx context.Context, query string, cfg provider.Config) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.configs = append(f.configs, cfg)
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.answer, f.err
}

func testMetrics(t *testing.T) *observability.Metrics {
	t.Helper()
	return observability.NewMetrics(fmt.Sprintf("jarvis_test_voice_%d", time.Now().UnixNano()))
}

func testOrchestrator(t *testing.T, c Completer) *Orchestrator {
	t.Helper()
	loc := time.FixedZone("MSK", 3*60*60)
	router := intent.NewRouter(intent.Options{
		Location: loc,
		Now:      func() time.Time { return time.Date(2026, time.October, 17, 9, 5, 0, 0, loc) },
	})
	return NewOrchestrator(router, c, testMetrics(t), nil)
}

func readyState() State {
	return State{
		Phase: PhaseIdle,
		Settings: settings.Settings{
			Provider: provider.Config{Provider: provider.Mistral, Credential: "key"},
			Voice:    settings.Voice{VoiceID: "ru-voice", Rate: 1.2, Pitch: 1, Volume: 0.8},
		},
	}
}

func texts(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Speaker)+":"+m.Text)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunTurnLocalIntentSkipsProvider(t *testing.T) {
	c := &fakeCompleter{answer: "unused"}
	o := testOrchestrator(t, c)
	rec := &Recorder{}

	next, turn, err := o.RunTurn(context.Background(), readyState(), rec.Outputs(), "Который час? Время")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if next.Phase != PhaseIdle {
		t.Fatalf("Phase = %q, want idle", next.Phase)
	}
	if c.calls.Load() != 0 {
		t.Fatalf("provider calls = %d, want 0", c.calls.Load())
	}
	if turn.Intent != intent.TimeQuery || turn.Outcome != OutcomeSuccess || turn.Response != "Сейчас 09:05" {
		t.Fatalf("turn = %+v", turn)
	}
	want := []string{"user:Который час? Время", "assistant:Сейчас 09:05"}
	if got := texts(rec.Messages); !equalStrings(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	if len(rec.Speaks) != 1 || rec.Speaks[0].Text != "Сейчас 09:05" {
		t.Fatalf("speaks = %+v", rec.Speaks)
	}
	if rec.Speaks[0].Voice.Rate != 1.2 || rec.Speaks[0].Voice.VoiceID != "ru-voice" {
		t.Fatalf("voice = %+v, want session voice", rec.Speaks[0].Voice)
	}
	if rec.Speaks[0].TurnID != turn.ID || turn.ID == "" {
		t.Fatalf("speak turn id = %q, turn id = %q", rec.Speaks[0].TurnID, turn.ID)
	}
}

func TestRunTurnNavigates(t *testing.T) {
	o := testOrchestrator(t, &fakeCompleter{})
	rec := &Recorder{}

	_, turn, err := o.RunTurn(context.Background(), readyState(), rec.Outputs(), "Википедия Тони Старк")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	wantURL := "https://ru.wikipedia.org/wiki/%D0%A2%D0%BE%D0%BD%D0%B8%20%D0%A1%D1%82%D0%B0%D1%80%D0%BA"
	if len(rec.Navigated) != 1 || rec.Navigated[0] != wantURL {
		t.Fatalf("navigated = %v, want [%s]", rec.Navigated, wantURL)
	}
	if turn.NavigateURL != wantURL {
		t.Fatalf("NavigateURL = %q", turn.NavigateURL)
	}
	if turn.Response != `Ищу "Тони Старк" в Википедии` {
		t.Fatalf("Response = %q", turn.Response)
	}
}

func TestRunTurnNavigationFailureStillResponds(t *testing.T) {
	o := testOrchestrator(t, &fakeCompleter{})
	rec := &Recorder{NavigateErr: errors.New("popup blocked")}

	_, turn, err := o.RunTurn(context.Background(), readyState(), rec.Outputs(), "открой google")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if turn.Outcome != OutcomeSuccess || turn.Response != "Открываю Google" {
		t.Fatalf("turn = %+v", turn)
	}
	if len(rec.Speaks) != 1 {
		t.Fatalf("speaks = %d, want 1", len(rec.Speaks))
	}
}

func TestRunTurnPassthroughSuccess(t *testing.T) {
	c := &fakeCompleter{answer: "**Тони Старк** — гений, миллиардер."}
	o := testOrchestrator(t, c)
	rec := &Recorder{}

	_, turn, err := o.RunTurn(context.Background(), readyState(), rec.Outputs(), "Кто такой Тони Старк")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if c.calls.Load() != 1 {
		t.Fatalf("provider calls = %d, want 1", c.calls.Load())
	}
	if c.queries[0] != "Кто такой Тони Старк" {
		t.Fatalf("query = %q, want original text", c.queries[0])
	}
	if c.configs[0].Credential != "key" || c.configs[0].Provider != provider.Mistral {
		t.Fatalf("config = %+v", c.configs[0])
	}
	want := []string{
		"user:Кто такой Тони Старк",
		"assistant:Думаю...",
		"assistant:**Тони Старк** — гений, миллиардер.",
	}
	if got := texts(rec.Messages); !equalStrings(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	if len(rec.Speaks) != 1 {
		t.Fatalf("speaks = %d, want only the final response", len(rec.Speaks))
	}
	if rec.Speaks[0].Text != "Тони Старк — гений, миллиардер." {
		t.Fatalf("spoken text = %q", rec.Speaks[0].Text)
	}
	if turn.Outcome != OutcomeSuccess || turn.Intent != intent.Passthrough {
		t.Fatalf("turn = %+v", turn)
	}
}

func TestRunTurnProviderErrorsBecomeApologies(t *testing.T) {
	cases := []struct {
		kind provider.Kind
		want string
	}{
		{provider.KindUnauthorized, "Извините, произошла ошибка. Неверный API ключ. Проверьте и введите корректный ключ."},
		{provider.KindRateLimited, "Извините, произошла ошибка. Превышен лимит запросов. Попробуйте позже."},
		{provider.KindServerUnavailable, "Извините, произошла ошибка. Сервис временно недоступен. Попробуйте позже."},
		{provider.KindNetworkFailure, "Извините, произошла ошибка. Проблемы с сетью. Проверьте подключение к интернету."},
		{provider.KindMalformedResponse, "Извините, произошла ошибка. Проверьте ваш API ключ и подключение."},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			c := &fakeCompleter{err: &provider.Error{Provider: provider.Mistral, Kind: tc.kind}}
			o := testOrchestrator(t, c)
			rec := &Recorder{}

			next, turn, err := o.RunTurn(context.Background(), readyState(), rec.Outputs(), "расскажи шутку")
			if err != nil {
				t.Fatalf("RunTurn() error = %v", err)
			}
			if next.Phase != PhaseIdle {
				t.Fatalf("Phase = %q, want idle", next.Phase)
			}
			if turn.Outcome != OutcomeProviderError || turn.ProviderKind != tc.kind {
				t.Fatalf("turn = %+v", turn)
			}
			if turn.Response != tc.want {
				t.Fatalf("Response = %q, want %q", turn.Response, tc.want)
			}
			if c.calls.Load() != 1 {
				t.Fatalf("provider calls = %d, want exactly 1", c.calls.Load())
			}
			if len(rec.Speaks) != 1 || rec.Speaks[0].Text != tc.want {
				t.Fatalf("speaks = %+v", rec.Speaks)
			}
		})
	}
}

func TestRunTurnWithoutCredential(t *testing.T) {
	c := &fakeCompleter{answer: "unused"}
	o := testOrchestrator(t, c)
	rec := &Recorder{}
	st := readyState()
	st.Settings.Provider.Credential = ""

	_, turn, err := o.RunTurn(context.Background(), st, rec.Outputs(), "расскажи шутку")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if c.calls.Load() != 0 {
		t.Fatalf("provider calls = %d, want 0", c.calls.Load())
	}
	if turn.Outcome != OutcomeLocalError || turn.Response != NoCredentialText {
		t.Fatalf("turn = %+v", turn)
	}
	want := []string{"user:расскажи шутку", "assistant:" + NoCredentialText}
	if got := texts(rec.Messages); !equalStrings(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
}

func TestRunTurnRejectsWhileProcessing(t *testing.T) {
	c := &fakeCompleter{}
	o := testOrchestrator(t, c)
	rec := &Recorder{}
	st := readyState()
	st.Phase = PhaseProcessing

	got, _, err := o.RunTurn(context.Background(), st, rec.Outputs(), "привет")
	if !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("error = %v, want ErrTurnInProgress", err)
	}
	if got.Phase != PhaseProcessing {
		t.Fatalf("Phase = %q, want processing to be kept", got.Phase)
	}
	if len(rec.Messages) != 0 {
		t.Fatalf("messages = %v, want none", rec.Messages)
	}
}

func TestRunTurnPlaybackFailure(t *testing.T) {
	o := testOrchestrator(t, &fakeCompleter{})
	rec := &Recorder{SpeakErr: errors.New("no voices")}

	_, turn, err := o.RunTurn(context.Background(), readyState(), rec.Outputs(), "привет")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if turn.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %q, want success", turn.Outcome)
	}
	want := []string{"user:привет", "assistant:Привет, сэр. Чем могу помочь?", "assistant:" + PlaybackFailedText}
	if got := texts(rec.Messages); !equalStrings(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	if len(rec.Statuses) != 1 || rec.Statuses[0] != "playback_error" {
		t.Fatalf("statuses = %v", rec.Statuses)
	}
}

func TestApologyForPlainErrors(t *testing.T) {
	if got := ApologyFor(provider.ErrNoCredential); got != NoCredentialText {
		t.Fatalf("ApologyFor(ErrNoCredential) = %q", got)
	}
	if got := ApologyFor(context.DeadlineExceeded); got != "Извините, произошла ошибка. Проблемы с сетью. Проверьте подключение к интернету." {
		t.Fatalf("ApologyFor(deadline) = %q", got)
	}
}

func TestCaptureErrorText(t *testing.T) {
	cases := map[string]string{
		"no-speech":     "Речь не распознана. Попробуйте еще раз.",
		"audio-capture": "Микрофон не найден. Проверьте подключение микрофона.",
		"not-allowed":   "Доступ к микрофону запрещен. Разрешите доступ в настройках браузера.",
		"network":       "Проблемы с сетью. Проверьте подключение к интернету.",
		"aborted":       "Неизвестная ошибка: aborted",
	}
	for code, want := range cases {
		if got := CaptureErrorText(code); got != want {
			t.Fatalf("CaptureErrorText(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestCredentialSavedText(t *testing.T) {
	want := "API ключ успешно сохранен для Mistral AI. Теперь вы можете использовать голосовые команды."
	if got := CredentialSavedText("Mistral AI"); got != want {
		t.Fatalf("CredentialSavedText() = %q, want %q", got, want)
	}
}
