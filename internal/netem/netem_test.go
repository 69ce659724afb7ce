package netem

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quicinterop/internal/execution"
	"quicinterop/internal/execution/executiontest"
	"quicinterop/internal/outcome"
)

func testbed() *executiontest.Fake {
	fake := executiontest.New()
	fake.IsRemote = true
	fake.Hosts = map[execution.Host]execution.HostInfo{
		execution.HostServer: {Name: "node-a", Interface: "eth1"},
		execution.HostClient: {Name: "node-b", Interface: "eth2"},
	}
	return fake
}

func TestBuildNetem(t *testing.T) {
	r := Rule{
		Delay:      "10ms",
		Loss:       "1%",
		Corruption: "0.1%",
		Reorder:    &Reorder{Percent: "25%", Correlation: "50%"},
	}
	assert.Equal(t,
		"tc qdisc add dev eth0 root netem limit 100000 delay 10ms reorder 25% 50% corrupt 0.1% loss 1%",
		strings.Join(BuildNetem("eth0", r), " "))
	assert.Equal(t,
		"tc qdisc add dev ifb0 root netem limit 100000 loss 2%",
		strings.Join(BuildNetem("ifb0", Rule{Loss: "2%"}), " "))
}

func TestRulePredicates(t *testing.T) {
	assert.True(t, Rule{}.Empty())
	assert.True(t, Rule{Bandwidth: "10mbit"}.BandwidthLimited())
	assert.False(t, Rule{Bandwidth: "10mbit"}.Impaired())
	assert.True(t, Rule{Reorder: &Reorder{"1", "2"}}.Impaired())
	assert.Equal(t, "none", Rule{}.String())
	assert.Equal(t, "bandwidth=1gbit delay=5ms", Rule{Bandwidth: "1gbit", Delay: "5ms"}.String())
}

func TestTC_ApplyAndRemove(t *testing.T) {
	fake := testbed()
	tc := NewTC(fake)
	ctx := context.Background()

	require.NoError(t, tc.Apply(ctx, Rule{Bandwidth: "100mbit", Delay: "20ms"}))
	require.NoError(t, tc.Remove(ctx))

	runs := fake.Calls("run")
	var got []string
	for _, c := range runs {
		got = append(got, string(c.Host)+": "+c.Command.Script)
	}
	assert.Equal(t, []string{
		"server: tc qdisc add dev eth1 root tbf rate 100mbit latency 50ms burst 1540",
		"client: modprobe ifb numifbs=1",
		"client: ip link set dev ifb0 up",
		"client: tc qdisc add dev eth2 ingress",
		"client: tc filter add dev eth2 parent ffff: protocol ip u32 match u32 0 0 flowid 1:1 action mirred egress redirect dev ifb0",
		"client: tc qdisc add dev ifb0 root netem limit 100000 delay 20ms",
		"client: tc qdisc add dev eth2 root netem limit 100000 delay 20ms",
		"server: tc qdisc del dev eth1 root",
		"client: modprobe -r ifb",
		"client: tc qdisc del dev eth2 ingress",
		"client: tc qdisc del dev eth2 root",
	}, got)

	// A second Remove has nothing left to undo.
	require.NoError(t, tc.Remove(ctx))
	assert.Len(t, fake.Calls("run"), len(runs))
}

func TestTC_RemoveAfterFailedApply(t *testing.T) {
	fake := testbed()
	fake.RunFunc = func(host execution.Host, c execution.Command) execution.Result {
		if strings.Contains(c.Script, "netem") || strings.Contains(c.Script, "del dev eth2 ingress") {
			return execution.Result{Status: outcome.ExitStatus{Code: 2}}
		}
		return execution.Result{}
	}
	tc := NewTC(fake)
	ctx := context.Background()

	err := tc.Apply(ctx, Rule{Loss: "5%"})
	require.Error(t, err)
	var emErr *EmulationError
	require.True(t, errors.As(err, &emErr))
	assert.Equal(t, "apply", emErr.Op)
	assert.Equal(t, execution.HostClient, emErr.Host)

	err = tc.Remove(ctx)
	require.Error(t, err, "ingress removal failed")
	assert.Equal(t, 1, fake.CountScript("modprobe -r ifb"))
	assert.Equal(t, 1, fake.CountScript("tc qdisc del dev eth2 root"), "later removals still attempted")
}

func TestTC_EmptyRule(t *testing.T) {
	fake := testbed()
	tc := NewTC(fake)
	require.NoError(t, tc.Apply(context.Background(), Rule{}))
	require.NoError(t, tc.Remove(context.Background()))
	assert.Empty(t, fake.Calls())
}

func TestNew(t *testing.T) {
	assert.IsType(t, Noop{}, New(executiontest.New()))
	assert.IsType(t, &TC{}, New(testbed()))
	assert.NoError(t, Noop{}.Apply(context.Background(), Rule{Delay: "1ms"}))
}
