package room

// Actor is who asks for a host-only operation: a player, or the server
// acting on the host's behalf (auto-advance, committing the last round).
// The zero Actor is nobody and holds no authority.
type Actor struct {
	playerID string
	system   bool
}

// PlayerActor is the player with the given id.
func PlayerActor(playerID string) Actor {
	return Actor{playerID: playerID}
}

// SystemActor is the server itself.
func SystemActor() Actor {
	return Actor{system: true}
}

// ID is the acting player's id; empty for the server.
func (a Actor) ID() string {
	return a.playerID
}

func (a Actor) String() string {
	if a.system {
		return "system"
	}
	return a.playerID
}
