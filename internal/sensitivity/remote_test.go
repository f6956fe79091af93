package sensitivity

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region mock
type mockComputeClient struct {
	resp *structpb.Struct
	err  error
	last *structpb.Struct
}

func (m *mockComputeClient) Compute(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	m.last = in
	return m.resp, m.err
}

// #endregion mock

func startServer(t *testing.T, f fixture) *RemoteProvider {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer()
	RegisterServer(g, NewServer(NewLinearProvider(), NewLinearNetwork(f.model), f.crac))
	go func() { _ = g.Serve(lis) }()
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewRemoteProviderWithClient(NewComputeClient(conn))
}

func TestRemoteProviderRoundTrip(t *testing.T) {
	f := newFixture(t)
	p := startServer(t, f)

	n := NewRemoteNetwork(f.model.InitialSetpoints)
	require.NoError(t, n.ApplyNetworkAction(f.topo))
	require.NoError(t, n.ApplyRangeAction(f.pst, -2))

	res, err := p.Compute(context.Background(), n, Request{Cnecs: []*crac.FlowCnec{f.line}, RangeActions: []*crac.RangeAction{f.pst}})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status())
	assert.InDelta(t, 60, res.Flow(f.line, crac.SideOne, crac.Megawatt), 1e-9)
	assert.InDelta(t, 10, res.Sensitivity(f.pst, f.line, crac.SideOne), 1e-9)
	assert.InDelta(t, 0.4, res.PtdfZonalSum(f.line, crac.SideOne), 1e-9)
	assert.InDelta(t, -60, res.LoopFlow(f.line, crac.SideOne), 1e-9)
}

func TestRemoteProviderUnknownAction(t *testing.T) {
	f := newFixture(t)
	p := startServer(t, f)

	n := NewRemoteNetwork(nil)
	ghost := &crac.NetworkAction{RemedialAction: crac.RemedialAction{ID: "ghost"}}
	require.NoError(t, n.ApplyNetworkAction(ghost))

	_, err := p.Compute(context.Background(), n, Request{Cnecs: []*crac.FlowCnec{f.line}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown network action")
}

func TestRemoteProviderEncodesRequest(t *testing.T) {
	f := newFixture(t)
	resp, err := structpb.NewStruct(map[string]interface{}{"status": "FAILURE"})
	require.NoError(t, err)
	mock := &mockComputeClient{resp: resp}
	p := NewRemoteProviderWithClient(mock)

	n := NewRemoteNetwork(nil)
	require.NoError(t, n.ApplyNetworkAction(f.topo))
	res, err := p.Compute(context.Background(), n, Request{Cnecs: []*crac.FlowCnec{f.line}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, res.Status())

	fields := mock.last.GetFields()
	require.Len(t, fields["network_actions"].GetListValue().GetValues(), 1)
	assert.Equal(t, "open-line", fields["network_actions"].GetListValue().GetValues()[0].GetStringValue())
	assert.Equal(t, "line-fr-be", fields["cnecs"].GetListValue().GetValues()[0].GetStringValue())
}

func TestRemoteProviderErrors(t *testing.T) {
	mock := &mockComputeClient{err: errors.New("connection refused")}
	p := NewRemoteProviderWithClient(mock)
	_, err := p.Compute(context.Background(), NewRemoteNetwork(nil), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compute rpc")

	bad, _ := structpb.NewStruct(map[string]interface{}{"status": "MAYBE"})
	mock = &mockComputeClient{resp: bad}
	_, err = NewRemoteProviderWithClient(mock).Compute(context.Background(), NewRemoteNetwork(nil), Request{})
	require.Error(t, err)

	_, err = p.Compute(context.Background(), NewLinearNetwork(NewLinearModel()), Request{})
	assert.True(t, errors.Is(err, ErrUnsupportedNetwork))
}
