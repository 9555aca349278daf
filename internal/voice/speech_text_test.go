package voice

import "testing"

func TestSanitizeSpeechText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops emoji and emphasis",
			in:   "Конечно, сэр! **Вот** ответ 😊",
			want: "Конечно, сэр! Вот ответ",
		},
		{
			name: "keeps link label and removes url",
			in:   "Подробнее: [документация](https://example.com/docs).",
			want: "Подробнее: документация.",
		},
		{
			name: "removes code",
			in:   "```bash\nls -la\n```\nЗатем выполните `make test`",
			want: "Затем выполните",
		},
		{
			name: "turns heading and bullets into sentences",
			in:   "# Итог\n- первый\n- второй",
			want: "Итог. первый. второй",
		},
		{
			name: "numbered list keeps existing punctuation",
			in:   "1. Сначала ключ;\n2) потом голос",
			want: "Сначала ключ; потом голос",
		},
		{
			name: "keeps russian punctuation",
			in:   "Джарвис — это «помощник»…",
			want: "Джарвис — это «помощник»…",
		},
		{
			name: "keeps local responses intact",
			in:   `Ищу "квантовая физика" в Википедии`,
			want: `Ищу "квантовая физика" в Википедии`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := sanitizeSpeechText(tc.in)
			if got != tc.want {
				t.Fatalf("sanitizeSpeechText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSpeechTextFallsBackToRaw(t *testing.T) {
	if got := speechText(" 😊👍 "); got != "😊👍" {
		t.Fatalf("speechText() = %q, want raw text", got)
	}
	if got := speechText("Сейчас 09:05"); got != "Сейчас 09:05" {
		t.Fatalf("speechText() = %q", got)
	}
}
