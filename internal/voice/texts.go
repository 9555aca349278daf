package voice

import (
	"errors"

	"github.com/ent0n29/jarvis/internal/provider"
)

// User-facing texts.
const (
	ThinkingText        = "Думаю..."
	NoCredentialText    = "Сначала сохраните ваш API ключ."
	PlaybackFailedText  = "Извините, не удалось воспроизвести ответ."
	CredentialReadyText = "API ключ загружен. Готов к работе."
	VoiceTestPhrase     = "Добрый день, сэр. Я Джарвис, ваш голосовой помощник. Чем могу быть полезен?"

	apologyPrefix = "Извините, произошла ошибка. "
	networkText   = "Проблемы с сетью. Проверьте подключение к интернету."
)

// CredentialSavedText confirms a saved credential for the named backend.
func CredentialSavedText(displayName string) string {
	return "API ключ успешно сохранен для " + displayName + ". Теперь вы можете использовать голосовые команды."
}

// ApologyFor turns a completion failure into the spoken apology.
func ApologyFor(err error) string {
	if errors.Is(err, provider.ErrNoCredential) {
		return NoCredentialText
	}
	switch provider.KindOf(err) {
	case provider.KindUnauthorized:
		return apologyPrefix + "Неверный API ключ. Проверьте и введите корректный ключ."
	case provider.KindRateLimited:
		return apologyPrefix + "Превышен лимит запросов. Попробуйте позже."
	case provider.KindServerUnavailable:
		return apologyPrefix + "Сервис временно недоступен. Попробуйте позже."
	case provider.KindNetworkFailure:
		return apologyPrefix + networkText
	default:
		return apologyPrefix + "Проверьте ваш API ключ и подключение."
	}
}

// Capture error codes reported by the client.
const (
	CaptureNoSpeech     = "no-speech"
	CaptureAudioCapture = "audio-capture"
	CaptureNotAllowed   = "not-allowed"
	CaptureNetwork      = "network"
)

// CaptureErrorLabel maps a client-supplied capture code onto the bounded set
// used as a metric label. Unknown codes become "other".
func CaptureErrorLabel(code string) string {
	switch code {
	case CaptureNoSpeech, CaptureAudioCapture, CaptureNotAllowed, CaptureNetwork:
		return code
	default:
		return "other"
	}
}

// CaptureErrorText explains a capture failure to the user.
func CaptureErrorText(code string) string {
	switch code {
	case CaptureNoSpeech:
		return "Речь не распознана. Попробуйте еще раз."
	case CaptureAudioCapture:
		return "Микрофон не найден. Проверьте подключение микрофона."
	case CaptureNotAllowed:
		return "Доступ к микрофону запрещен. Разрешите доступ в настройках браузера."
	case CaptureNetwork:
		return networkText
	default:
		return "Неизвестная ошибка: " + code
	}
}
