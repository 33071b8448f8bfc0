package ica

import "errors"

var (
	ErrUnknownAction      = errors.New("ica: unknown action")
	ErrInvalidToken       = errors.New("ica: invalid memo token")
	ErrInvalidMemoFormat  = errors.New("ica: invalid memo format")
	ErrInvalidAmount      = errors.New("ica: invalid amount")
	ErrUnknownMemo        = errors.New("ica: unknown memo")
	ErrDecodePacket       = errors.New("ica: packet data does not decode")
	ErrDecodeQueryResult  = errors.New("ica: query response does not decode")
	ErrEmptyQueryResult   = errors.New("ica: query result carries neither success nor error")
	ErrAmbiguousUnionType = errors.New("ica: message must set exactly one variant")
)
