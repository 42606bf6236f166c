package arena

import (
	"crypto/rand"
	"errors"
	"time"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room is full")
	ErrInvalidState   = errors.New("game already in progress")
	ErrNotInRoom      = errors.New("not in a room")
)

// RoomCapacity is the fixed two-party match size.
const RoomCapacity = 2

type RoomState string

const (
	RoomWaiting  RoomState = "waiting"
	RoomStarting RoomState = "starting"
	RoomActive   RoomState = "active"
	RoomEnded    RoomState = "ended"
)

// Room is a two-party match container. All mutation happens under the hub
// mutex; Room itself is plain data.
type Room struct {
	ID        string
	Members   []string // session ids, insertion order
	Host      string
	State     RoomState
	CreatedAt time.Time

	// graceToken invalidates stale grace timers after membership changes.
	graceToken int64
}

func (r *Room) info() RoomInfo {
	return RoomInfo{
		ID:         r.ID,
		Players:    append([]string(nil), r.Members...),
		MaxPlayers: RoomCapacity,
		Host:       r.Host,
		GameState:  string(r.State),
		CreatedAt:  r.CreatedAt.UnixMilli(),
	}
}

func (r *Room) removeMember(sessionID string) {
	out := r.Members[:0]
	for _, id := range r.Members {
		if id != sessionID {
			out = append(out, id)
		}
	}
	r.Members = out
}

const (
	roomAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeLen  = 6
)

// newRoomCode returns a short uppercase code suitable for manual sharing.
func newRoomCode() string {
	b := make([]byte, roomCodeLen)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = roomAlphabet[int(b[i])%len(roomAlphabet)]
	}
	return string(b)
}
