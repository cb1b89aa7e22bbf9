package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/fraudswarm/internal/fanout"
	"github.com/mbd888/fraudswarm/internal/fraud"
)

const (
	deviceSharingWindow = 30 * 24 * time.Hour
	coordinationSpread  = time.Hour
	deviceVelocityWin   = time.Hour

	ringDeviceUsers      = 3  // strictly more other users on one device
	sharedDeviceUsers    = 2  // 2..3 other users is suspicious but not a ring
	ringMerchantUsers    = 5  // strictly more users at one merchant within the spread
	ringDeviceVelocity   = 10 // strictly more transactions on one device per hour
	weightRingDevice     = 0.40
	weightSharedDevice   = 0.20
	weightCoordinated    = 0.30
	weightDeviceVelocity = 0.30
)

// NetworkAgent looks for collusion: devices passed between many accounts,
// many users hitting one merchant at once, and devices used at machine
// speed. Any of those marks the transaction as part of a fraud ring.
type NetworkAgent struct {
	graph DeviceGraph
}

var _ fraud.Scorer = (*NetworkAgent)(nil)

// NewNetworkAgent creates a network agent.
func NewNetworkAgent(g DeviceGraph) *NetworkAgent {
	return &NetworkAgent{graph: g}
}

// Name implements fraud.Scorer.
func (n *NetworkAgent) Name() string { return fraud.AgentNetwork }

// Score implements fraud.Scorer. The three counts are independent and run
// concurrently.
func (n *NetworkAgent) Score(ctx context.Context, tx *fraud.Transaction) (*fraud.AgentScore, error) {
	ts := tx.Timestamp
	hasDevice := tx.DeviceFingerprint != ""

	counts, err := fanout.Run(ctx, 0,
		func(ctx context.Context) (int64, error) {
			if !hasDevice {
				return 0, nil
			}
			return n.graph.CountDeviceUsers(ctx, tx.DeviceFingerprint, tx.UserID, ts.Add(-deviceSharingWindow))
		},
		func(ctx context.Context) (int64, error) {
			return n.graph.CountMerchantUsers(ctx, tx.Merchant, ts.Add(-coordinationSpread), ts.Add(coordinationSpread))
		},
		func(ctx context.Context) (int64, error) {
			if !hasDevice {
				return 0, nil
			}
			return n.graph.CountDeviceTransactions(ctx, tx.DeviceFingerprint, ts.Add(-deviceVelocityWin))
		},
	)
	if err != nil {
		return nil, fmt.Errorf("network agent: %w", err)
	}
	sharedUsers, merchantUsers, deviceTxns := counts[0], counts[1], counts[2]

	var (
		t    tally
		ring bool
	)

	switch {
	case sharedUsers > ringDeviceUsers:
		ring = true
		t.add(weightRingDevice, "Device shared by %d users (fraud ring)", sharedUsers)
	case sharedUsers >= sharedDeviceUsers:
		t.add(weightSharedDevice, "Device used by %d other users", sharedUsers)
	}

	if merchantUsers > ringMerchantUsers {
		ring = true
		t.add(weightCoordinated, "Coordinated activity: %d users at %s within 1 hour", merchantUsers, tx.Merchant)
	}

	if deviceTxns > ringDeviceVelocity {
		ring = true
		t.add(weightDeviceVelocity, "Device velocity: %d transactions in last hour", deviceTxns)
	}

	details := map[string]any{
		"fraud_ring_detected":      ring,
		"users_sharing_device":     sharedUsers,
		"coordinated_transactions": merchantUsers,
		"device_transactions_1h":   deviceTxns,
	}

	score := t.result(fraud.AgentNetwork, "No fraud ring indicators", details)
	score.RingDetected = ring
	if ring {
		score.Reason = RingMarker + ": " + score.Reason
	}
	return score, nil
}
