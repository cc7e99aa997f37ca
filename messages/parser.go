package messages

import (
	"errors"
	"fmt"
)

// ErrUnknownCommand is returned by Decode for commands the relay does not handle
var ErrUnknownCommand = errors.New("unknown command")

var registry = map[string]func() Message{
	CmdBlock:       func() Message { return &Block{} },
	CmdTx:          func() Message { return &Tx{} },
	CmdGetData:     func() Message { return &GetData{} },
	CmdInv:         func() Message { return &Inv{} },
	CmdGetHeaders:  func() Message { return &GetHeaders{} },
	CmdHeaders:     func() Message { return &Headers{} },
	CmdPing:        func() Message { return &Ping{} },
	CmdPong:        func() Message { return &Pong{} },
	CmdReject:      func() Message { return &Reject{} },
	CmdFilterLoad:  func() Message { return &FilterLoad{} },
	CmdMerkleBlock: func() Message { return &MerkleBlock{} },
	CmdXThinBlock:  func() Message { return &XThinBlock{} },
	CmdGetXThin:    func() Message { return &GetXThin{} },
	CmdGetXBlockTx: func() Message { return &XThinReRequest{} },
	CmdXBlockTx:    func() Message { return &XThinReReqResponse{} },
	CmdCmpctBlock:  func() Message { return &CompactBlock{} },
	CmdSendCmpct:   func() Message { return &SendCmpct{} },
	CmdGetBlockTxn: func() Message { return &CompactReRequest{} },
	CmdBlockTxn:    func() Message { return &CompactReReqResponse{} },
}

// Decode parses a payload for the given network command
func Decode(command string, payload []byte) (Message, error) {
	newMsg, ok := registry[command]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	msg := newMsg()
	if err := DecodeInto(payload, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
