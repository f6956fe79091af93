package sensitivity

import (
	"context"
	"fmt"
	"sort"

	"github.com/danielpatrickdp/grid-rao/internal/crac"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName   = "rao.sensitivity.v1.SensitivityService"
	computeMethod = "/" + serviceName + "/Compute"
)

// #region remote-network
// RemoteNetwork records the actions applied by a leaf. The grid itself lives on the
// sensitivity server, which replays the recorded actions on its own base network.
type RemoteNetwork struct {
	initial   map[string]float64
	applied   map[string]bool
	setpoints map[string]float64
}

// NewRemoteNetwork creates an untouched remote network. initial holds the starting
// setpoint of every range action.
func NewRemoteNetwork(initial map[string]float64) *RemoteNetwork {
	return &RemoteNetwork{
		initial:   initial,
		applied:   make(map[string]bool),
		setpoints: make(map[string]float64),
	}
}

func (n *RemoteNetwork) Clone() Network {
	c := NewRemoteNetwork(n.initial)
	for id := range n.applied {
		c.applied[id] = true
	}
	for id, v := range n.setpoints {
		c.setpoints[id] = v
	}
	return c
}

func (n *RemoteNetwork) ApplyNetworkAction(na *crac.NetworkAction) error {
	if na == nil {
		return fmt.Errorf("apply network action: %w", ErrUnknownAction)
	}
	n.applied[na.ID] = true
	return nil
}

func (n *RemoteNetwork) ApplyRangeAction(ra *crac.RangeAction, setpoint float64) error {
	if ra == nil {
		return fmt.Errorf("apply range action: %w", ErrUnknownAction)
	}
	n.setpoints[ra.ID] = setpoint
	return nil
}

func (n *RemoteNetwork) AppliedNetworkActions() []string {
	ids := make([]string, 0, len(n.applied))
	for id := range n.applied {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (n *RemoteNetwork) Setpoints() map[string]float64 {
	out := make(map[string]float64, len(n.initial))
	for id, v := range n.initial {
		out[id] = v
	}
	for id, v := range n.setpoints {
		out[id] = v
	}
	return out
}

// #endregion remote-network

// #region client
// ComputeClient is the client side of the sensitivity service.
type ComputeClient interface {
	Compute(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type computeClient struct {
	cc grpc.ClientConnInterface
}

// NewComputeClient binds a ComputeClient to a connection.
func NewComputeClient(cc grpc.ClientConnInterface) ComputeClient {
	return &computeClient{cc: cc}
}

func (c *computeClient) Compute(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, computeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoteProvider delegates computations to a sensitivity server over gRPC.
type RemoteProvider struct {
	conn   *grpc.ClientConn
	client ComputeClient
}

// NewRemoteProvider connects to the sensitivity server at addr.
func NewRemoteProvider(addr string) (*RemoteProvider, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &RemoteProvider{conn: conn, client: NewComputeClient(conn)}, nil
}

// NewRemoteProviderWithClient creates a RemoteProvider over an injected client.
// Used for testing without a real gRPC connection.
func NewRemoteProviderWithClient(client ComputeClient) *RemoteProvider {
	return &RemoteProvider{client: client}
}

// Close shuts down the gRPC connection.
func (p *RemoteProvider) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// Compute sends the actions recorded on network and decodes the returned result.
func (p *RemoteProvider) Compute(ctx context.Context, network Network, req Request) (*Result, error) {
	rn, ok := network.(*RemoteNetwork)
	if !ok {
		return nil, fmt.Errorf("remote compute: %w", ErrUnsupportedNetwork)
	}
	in, err := encodeRequest(rn, req)
	if err != nil {
		return nil, fmt.Errorf("remote compute: %w", err)
	}
	out, err := p.client.Compute(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("compute rpc: %w", err)
	}
	res, err := decodeResult(out)
	if err != nil {
		return nil, fmt.Errorf("remote compute: %w", err)
	}
	return res, nil
}

// #endregion client

// #region server
type computeServer interface {
	Compute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// Server answers Compute calls by replaying the requested actions on a clone of base.
type Server struct {
	provider Provider
	base     Network
	crac     *crac.Crac
	cnecs    map[string]*crac.FlowCnec
}

// NewServer serves computations of provider on copies of base.
func NewServer(provider Provider, base Network, c *crac.Crac) *Server {
	cnecs := make(map[string]*crac.FlowCnec, len(c.FlowCnecs()))
	for _, cnec := range c.FlowCnecs() {
		cnecs[cnec.ID] = cnec
	}
	return &Server{provider: provider, base: base, crac: c, cnecs: cnecs}
}

// RegisterServer exposes s on g.
func RegisterServer(g *grpc.Server, s *Server) {
	g.RegisterService(&serviceDesc, s)
}

func (s *Server) Compute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	network := s.base.Clone()
	for _, v := range fields["network_actions"].GetListValue().GetValues() {
		na, ok := s.crac.NetworkAction(v.GetStringValue())
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown network action %q", v.GetStringValue())
		}
		if err := network.ApplyNetworkAction(na); err != nil {
			return nil, status.Errorf(codes.Internal, "apply %s: %v", na.ID, err)
		}
	}
	for id, v := range fields["setpoints"].GetStructValue().GetFields() {
		ra, ok := s.crac.RangeAction(id)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown range action %q", id)
		}
		if err := network.ApplyRangeAction(ra, v.GetNumberValue()); err != nil {
			return nil, status.Errorf(codes.Internal, "apply %s: %v", ra.ID, err)
		}
	}

	var req Request
	for _, v := range fields["cnecs"].GetListValue().GetValues() {
		cnec, ok := s.cnecs[v.GetStringValue()]
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown cnec %q", v.GetStringValue())
		}
		req.Cnecs = append(req.Cnecs, cnec)
	}
	for _, v := range fields["range_actions"].GetListValue().GetValues() {
		ra, ok := s.crac.RangeAction(v.GetStringValue())
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown range action %q", v.GetStringValue())
		}
		req.RangeActions = append(req.RangeActions, ra)
	}

	res, err := s.provider.Compute(ctx, network, req)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "compute: %v", err)
	}
	out, err := encodeResult(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

func computeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(computeServer).Compute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: computeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(computeServer).Compute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*computeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Compute", Handler: computeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rao/sensitivity/v1/sensitivity.proto",
}

// #endregion server

// #region wire
func encodeRequest(n *RemoteNetwork, req Request) (*structpb.Struct, error) {
	actions := make([]interface{}, 0, len(n.applied))
	for _, id := range n.AppliedNetworkActions() {
		actions = append(actions, id)
	}
	setpoints := make(map[string]interface{}, len(n.setpoints))
	for id, v := range n.setpoints {
		setpoints[id] = v
	}
	cnecs := make([]interface{}, len(req.Cnecs))
	for i, c := range req.Cnecs {
		cnecs[i] = c.ID
	}
	ras := make([]interface{}, len(req.RangeActions))
	for i, ra := range req.RangeActions {
		ras[i] = ra.ID
	}
	return structpb.NewStruct(map[string]interface{}{
		"network_actions": actions,
		"setpoints":       setpoints,
		"cnecs":           cnecs,
		"range_actions":   ras,
	})
}

func encodeResult(r *Result) (*structpb.Struct, error) {
	sideEntries := func(m map[CnecSide]float64) []interface{} {
		keys := make([]CnecSide, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].CnecID != keys[j].CnecID {
				return keys[i].CnecID < keys[j].CnecID
			}
			return keys[i].Side < keys[j].Side
		})
		out := make([]interface{}, len(keys))
		for i, k := range keys {
			out[i] = map[string]interface{}{"cnec": k.CnecID, "side": string(k.Side), "value": m[k]}
		}
		return out
	}
	sens := make([]interface{}, 0, len(r.sensitivities))
	for k, v := range r.sensitivities {
		sens = append(sens, map[string]interface{}{
			"range_action": k.RangeActionID, "cnec": k.CnecID, "side": string(k.Side), "value": v,
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"status":           string(r.status),
		"flows":            sideEntries(r.flows),
		"sensitivities":    sens,
		"ptdf_sums":        sideEntries(r.ptdfSums),
		"commercial_flows": sideEntries(r.commercialFlows),
	})
}

func decodeResult(s *structpb.Struct) (*Result, error) {
	fields := s.GetFields()
	st := Status(fields["status"].GetStringValue())
	switch st {
	case StatusSuccess, StatusFallback, StatusFailure:
	default:
		return nil, fmt.Errorf("unknown status %q", st)
	}
	res := NewResult(st)
	decodeSides := func(name string, set func(string, crac.Side, float64)) {
		for _, v := range fields[name].GetListValue().GetValues() {
			e := v.GetStructValue().GetFields()
			set(e["cnec"].GetStringValue(), crac.Side(e["side"].GetStringValue()), e["value"].GetNumberValue())
		}
	}
	decodeSides("flows", res.SetFlow)
	decodeSides("ptdf_sums", res.SetPtdfSum)
	decodeSides("commercial_flows", res.SetCommercialFlow)
	for _, v := range fields["sensitivities"].GetListValue().GetValues() {
		e := v.GetStructValue().GetFields()
		res.SetSensitivity(e["range_action"].GetStringValue(), e["cnec"].GetStringValue(),
			crac.Side(e["side"].GetStringValue()), e["value"].GetNumberValue())
	}
	return res, nil
}

// #endregion wire
