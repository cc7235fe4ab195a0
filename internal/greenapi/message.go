package greenapi

import "github.com/matheus3301/wpptriage/internal/triage"

// apiMessage is the journal message shape returned by Green API.
type apiMessage struct {
	Type              string `json:"type"`
	IDMessage         string `json:"idMessage"`
	Timestamp         int64  `json:"timestamp"`
	TypeMessage       string `json:"typeMessage"`
	ChatID            string `json:"chatId"`
	SenderID          string `json:"senderId"`
	SenderName        string `json:"senderName"`
	SenderContactName string `json:"senderContactName"`
	TextMessage       string `json:"textMessage"`
	IsForwarded       bool   `json:"isForwarded"`
	ForwardingScore   int    `json:"forwardingScore"`
	DownloadURL       string `json:"downloadUrl"`
	Caption           string `json:"caption"`
	FileName          string `json:"fileName"`
	IsEdited          bool   `json:"isEdited"`
	IsDeleted         bool   `json:"isDeleted"`
}

func (m apiMessage) toMessage(fallback triage.Direction) triage.Message {
	dir := fallback
	switch triage.Direction(m.Type) {
	case triage.Incoming:
		dir = triage.Incoming
	case triage.Outgoing:
		dir = triage.Outgoing
	}
	return triage.Message{
		ID:                m.IDMessage,
		ChatID:            m.ChatID,
		Direction:         dir,
		Timestamp:         m.Timestamp,
		Kind:              m.TypeMessage,
		Text:              m.TextMessage,
		Caption:           m.Caption,
		SenderID:          m.SenderID,
		SenderName:        m.SenderName,
		SenderContactName: m.SenderContactName,
		IsForwarded:       m.IsForwarded,
		ForwardingScore:   m.ForwardingScore,
		DownloadURL:       m.DownloadURL,
		FileName:          m.FileName,
		IsEdited:          m.IsEdited,
		IsDeleted:         m.IsDeleted,
	}
}
