package service

import "errors"

// Kind 标记业务错误的类别，handler 据此映射 HTTP 状态码，
// 实时通道的 ack 回调原样携带 {kind, msg}。
type Kind string

const (
	KindAuth     Kind = "auth"
	KindNotFound Kind = "not_found"
	KindConflict Kind = "conflict"
	KindStorage  Kind = "storage"
	KindInternal Kind = "internal"
)

// Error 携带类别和面向用户的描述。
type Error struct {
	Kind Kind   `json:"kind"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string { return e.Msg }

func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// AsError 把任意 error 归一成 *Error，未知错误归为 internal。
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Kind: KindInternal, Msg: "internal server error"}
}

// 面向用户的文案，与客户端既有提示保持一致。
const (
	MsgEmailTaken       = "This email already exists. Please enter a different email."
	MsgEmailNotFound    = "Email address not found. Please try again, or register for a new account."
	MsgWrongPassword    = "Incorrect password"
	MsgOldPasswordWrong = "The old password is incorrect"
	MsgUserNotFound     = "User not found"
	MsgRoomNotFound     = "Room not found."
	MsgRoomTaken        = "A chatroom with this name already exists. Please enter a different room name."
	MsgRoomTakenRename  = "A chatroom with this name already exists. Please enter a different room name, or press Cancel to discard changes."
	MsgRoomInUseClear   = "This room is currently in use. Chat cannot be cleared at this time. Although individual messages can be deleted."
	MsgRoomInUseDelete  = "This room is currently in use. Cannot delete at this time."
	MsgAuthRequired     = "Authorization error, please login"
	MsgSessionExpired   = "Authorization error: Session expired. Please login again"
	MsgStoreUnavailable = "File storage is unavailable. Please try again later."
	MsgFileUnavailable  = "Error encountered in download of file"
)
