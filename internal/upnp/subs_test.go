package upnp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddEvictsSameClientAndService(t *testing.T) {
	table := newSubTable()

	first := table.Add("dev", serviceAVTransport, "http://10.0.0.2:9000/cb", "10.0.0.2", time.Hour, false)
	second := table.Add("dev", serviceAVTransport, "http://10.0.0.2:9001/cb", "10.0.0.2", time.Hour, false)

	found, ok := table.FindByIP("dev", serviceAVTransport, "10.0.0.2")
	require.True(t, ok)
	assert.Equal(t, second.SID, found.SID)
	assert.False(t, table.Renew("dev", first.SID, time.Hour))

	// A RenderingControl subscription from the same IP coexists.
	table.Add("dev", serviceRenderingControl, "http://10.0.0.2:9000/cb", "10.0.0.2", time.Hour, false)
	_, ok = table.FindByIP("dev", serviceAVTransport, "10.0.0.2")
	assert.True(t, ok)
}

func TestRenewAndRemove(t *testing.T) {
	table := newSubTable()
	sub := table.Add("dev", serviceAVTransport, "http://10.0.0.2:9000/cb", "10.0.0.2", time.Hour, false)

	assert.True(t, table.Renew("dev", sub.SID, time.Hour))
	assert.False(t, table.Renew("dev", "uuid:unknown", time.Hour))

	assert.True(t, table.Remove("dev", sub.SID))
	assert.False(t, table.Remove("dev", sub.SID))
}

func TestClaimTargetsSkipsExpiredAndTemporary(t *testing.T) {
	table := newSubTable()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	table.now = func() time.Time { return now }

	live := table.Add("dev", serviceAVTransport, "http://10.0.0.2:9000/cb", "10.0.0.2", time.Hour, false)
	table.Add("dev", serviceAVTransport, "http://10.0.0.3:9000/cb", "10.0.0.3", time.Minute, false)
	table.AddTemporary("dev", "10.0.0.4")

	now = now.Add(30 * time.Minute)
	targets := table.ClaimAVTransportTargets("dev")

	require.Len(t, targets, 1)
	assert.Equal(t, live.SID, targets[0].SID)
	assert.Equal(t, 0, targets[0].Seq)

	// Sequence numbers advance per claim.
	targets = table.ClaimAVTransportTargets("dev")
	require.Len(t, targets, 1)
	assert.Equal(t, 1, targets[0].Seq)
}

func TestTemporaryCarriesLastPlayURL(t *testing.T) {
	table := newSubTable()
	sub := table.AddTemporary("dev", "10.0.0.4")

	assert.True(t, sub.Temporary)
	assert.Equal(t, "http://10.0.0.4/temp/", sub.Callback)

	table.SetLastPlayURL("dev", sub.SID, "http://media.local/a.mp3")
	assert.Equal(t, "http://media.local/a.mp3", table.LastPlayURL("dev", sub.SID))
}

func TestRemoveDeviceDropsAllSubscriptions(t *testing.T) {
	table := newSubTable()
	table.Add("dev", serviceAVTransport, "http://10.0.0.2:9000/cb", "10.0.0.2", time.Hour, false)
	table.RemoveDevice("dev")

	_, ok := table.FindByIP("dev", serviceAVTransport, "10.0.0.2")
	assert.False(t, ok)
}
