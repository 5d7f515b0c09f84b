package clientcore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-client-core/internal/domain"
	"github.com/nexus-edge/opcua-client-core/internal/subscription"
)

// opcClient adapts *opcua.Client to the narrow collaborator interfaces the
// session, browse, subscription, structural, and loader packages each
// declare for themselves.
type opcClient struct {
	inner *opcua.Client
}

func newOPCClient(inner *opcua.Client) *opcClient {
	return &opcClient{inner: inner}
}

// Connect and Close satisfy session.Client.
func (c *opcClient) Connect(ctx context.Context) error {
	return c.inner.Connect(ctx)
}

func (c *opcClient) Close(ctx context.Context) error {
	return c.inner.Close(ctx)
}

// Browse satisfies browse.Client.
func (c *opcClient) Browse(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	return c.inner.Browse(ctx, req)
}

// Subscribe satisfies subscription.Client, wrapping the returned
// *opcua.Subscription so it is handed back as the narrower OPCSubscription
// interface.
func (c *opcClient) Subscribe(ctx context.Context, params *opcua.SubscriptionParameters, notifyCh chan<- *opcua.PublishNotificationData) (subscription.OPCSubscription, error) {
	sub, err := c.inner.Subscribe(ctx, params, notifyCh)
	if err != nil {
		return nil, err
	}
	return &opcSubscription{sub}, nil
}

// opcSubscription adds the subscription-id accessor AdoptTransferred needs
// (spec.md §4.2) on top of *opcua.Subscription's own Monitor/Unmonitor/Cancel
// methods, which it exposes via embedding.
type opcSubscription struct {
	*opcua.Subscription
}

func (s *opcSubscription) ID() uint32 {
	return s.SubscriptionID
}

// AddNodes and DeleteNodes satisfy structural.Client.
func (c *opcClient) AddNodes(ctx context.Context, req *ua.AddNodesRequest) (*ua.AddNodesResponse, error) {
	return c.inner.AddNodes(ctx, req)
}

func (c *opcClient) DeleteNodes(ctx context.Context, req *ua.DeleteNodesRequest) (*ua.DeleteNodesResponse, error) {
	return c.inner.DeleteNodes(ctx, req)
}

// ReadDataTypeAndValueRank satisfies loader.AttributeReader, reading a
// Variable node's DataType and ValueRank attributes in a single Read call.
func (c *opcClient) ReadDataTypeAndValueRank(ctx context.Context, nodeID *ua.NodeID) (domain.NodeId, int32, error) {
	req := &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: nodeID, AttributeID: ua.AttributeIDDataType},
			{NodeID: nodeID, AttributeID: ua.AttributeIDValueRank},
		},
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	}

	resp, err := c.inner.Read(ctx, req)
	if err != nil {
		return domain.NodeId{}, 0, fmt.Errorf("clientcore: read attributes: %w", err)
	}
	if len(resp.Results) != 2 {
		return domain.NodeId{}, 0, fmt.Errorf("clientcore: read attributes: unexpected result count %d", len(resp.Results))
	}

	dataTypeResult, valueRankResult := resp.Results[0], resp.Results[1]
	if dataTypeResult.Status != ua.StatusOK {
		return domain.NodeId{}, 0, fmt.Errorf("clientcore: read data type: %s", dataTypeResult.Status)
	}

	var dataType domain.NodeId
	if id, ok := dataTypeResult.Value.Value().(*ua.NodeID); ok {
		identifier := id.StringID()
		if identifier == "" {
			// Built-in DataTypes are numeric (e.g. i=11 for Double); keep the
			// number as the identifier the Type Resolver is keyed by.
			identifier = strconv.FormatUint(uint64(id.IntID()), 10)
		}
		dataType = domain.NodeId{NamespaceIndex: id.Namespace(), Identifier: identifier}
	}

	var valueRank int32
	if valueRankResult.Status == ua.StatusOK {
		if rank, ok := valueRankResult.Value.Value().(int32); ok {
			valueRank = rank
		}
	}

	return dataType, valueRank, nil
}

// Read performs a single-attribute Value read of nodeID.
func (c *opcClient) Read(ctx context.Context, nodeID *ua.NodeID) (*ua.DataValue, error) {
	req := &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: nodeID, AttributeID: ua.AttributeIDValue},
		},
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	}
	resp, err := c.inner.Read(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) != 1 {
		return nil, fmt.Errorf("clientcore: read value: unexpected result count %d", len(resp.Results))
	}
	return resp.Results[0], nil
}

// Write performs a single-attribute Value write of nodeID.
func (c *opcClient) Write(ctx context.Context, nodeID *ua.NodeID, value *ua.Variant) (ua.StatusCode, error) {
	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{
			{
				NodeID:      nodeID,
				AttributeID: ua.AttributeIDValue,
				Value:       &ua.DataValue{EncodingMask: ua.DataValueValue, Value: value},
			},
		},
	}
	resp, err := c.inner.Write(ctx, req)
	if err != nil {
		return ua.StatusBad, err
	}
	if len(resp.Results) != 1 {
		return ua.StatusBad, fmt.Errorf("clientcore: write: unexpected result count %d", len(resp.Results))
	}
	return resp.Results[0], nil
}
