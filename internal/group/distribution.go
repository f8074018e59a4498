package group

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SenderKeyDistribution is the wire form of a chain seed given to a
// specific member: the initial (keyId, chainKey, iteration) a receiver
// needs to join or resume a sender's chain, plus the sender-event pubkey
// that will author broadcasts under it.
type SenderKeyDistribution struct {
	GroupID           string `json:"groupId"`
	KeyID             uint32 `json:"keyId"`
	ChainKey          string `json:"chainKey"`
	Iteration         uint32 `json:"iteration"`
	CreatedAt         int64  `json:"createdAt"`
	SenderEventPubkey string `json:"senderEventPubkey,omitempty"`
}

func parseDistribution(content string) (SenderKeyDistribution, error) {
	var dist SenderKeyDistribution
	if err := json.Unmarshal([]byte(content), &dist); err != nil {
		return SenderKeyDistribution{}, fmt.Errorf("group: parse distribution: %w", err)
	}
	return dist, nil
}

// currentDistribution snapshots the group's own sender state at its
// current iteration — a joining member who receives this will decrypt
// messages from that iteration forward only.
func (g *Group) currentDistribution(nowMs int64) SenderKeyDistribution {
	chainKey := g.ownSenderState.ChainKey()
	pub := g.ownSenderEventSigner.PublicKey()
	return SenderKeyDistribution{
		GroupID:           g.id,
		KeyID:             g.ownSenderState.KeyID(),
		ChainKey:          hex.EncodeToString(chainKey[:]),
		Iteration:         g.ownSenderState.Iteration(),
		CreatedAt:         nowMs / 1000,
		SenderEventPubkey: hex.EncodeToString(pub[:]),
	}
}
