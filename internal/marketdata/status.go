package marketdata

// Status - состояние сессии биржи. Терминальные статусы означают
// проблему конфигурации: супервизор по ним не переподключается.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
	StatusAuthError   // биржа отвергла учётные данные
	StatusUnsupported // биржа не отдаёт стриминг стакана
	StatusNoPairs     // ни одна настроенная пара не торгуется на бирже
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	case StatusAuthError:
		return "auth_error"
	case StatusUnsupported:
		return "unsupported"
	case StatusNoPairs:
		return "no_pairs"
	default:
		return "unknown"
	}
}

// IsTerminal сообщает, является ли статус окончательным:
// сессия с таким статусом не перезапускается до рестарта процесса
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAuthError, StatusUnsupported, StatusNoPairs:
		return true
	default:
		return false
	}
}

// IsLive сообщает, считаются ли данные биржи актуальными.
// Только такие биржи участвуют в сканировании и выдаче тикеров.
func (s Status) IsLive() bool {
	return s == StatusConnected || s == StatusConnecting
}

// MarshalText сериализует статус строкой для JSON ответов
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
