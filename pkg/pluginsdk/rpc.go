// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package pluginsdk

import (
	"context"
	"net/rpc"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	pluginpkg "github.com/PolycarpusTack/Alexandria-sub004/pkg/plugin"
)

// Hook names carried over RPC.
const (
	HookInstall    = "install"
	HookActivate   = "activate"
	HookDeactivate = "deactivate"
	HookUninstall  = "uninstall"
)

// RPCPlugin adapts a Plugin to go-plugin's net/rpc transport.
type RPCPlugin struct {
	// Impl is used by the plugin process; the host leaves it nil.
	Impl Plugin
}

var _ hashiplug.Plugin = (*RPCPlugin)(nil)

// Server is called by the plugin process.
func (p *RPCPlugin) Server(*hashiplug.MuxBroker) (any, error) {
	if p.Impl == nil {
		return nil, oops.In("pluginsdk").Errorf("plugin implementation is nil")
	}
	return &RPCServer{Impl: p.Impl}, nil
}

// Client is called by the host process.
func (p *RPCPlugin) Client(_ *hashiplug.MuxBroker, c *rpc.Client) (any, error) {
	return NewRPCClient(c), nil
}

// Timeout carries the caller's deadline across the process boundary, since
// net/rpc has no notion of a context. Zero means no deadline.
type Timeout time.Duration

func timeoutOf(ctx context.Context) Timeout {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return Timeout(d)
		}
		return Timeout(time.Nanosecond)
	}
	return 0
}

func (t Timeout) context() (context.Context, context.CancelFunc) {
	if t <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), time.Duration(t))
}

// HookArgs are the arguments of RPCServer.Hook.
type HookArgs struct {
	Hook    string
	Timeout Timeout
}

// HandlersArgs are the arguments of RPCServer.Handlers.
type HandlersArgs struct {
	Timeout Timeout
}

// EventArgs are the arguments of RPCServer.HandleEvent.
type EventArgs struct {
	Handler string
	Event   pluginpkg.Event
	Timeout Timeout
}

// EventReply is the reply of RPCServer.HandleEvent.
type EventReply struct {
	Emits []Emit
}

// RequestArgs are the arguments of RPCServer.HandleRequest.
type RequestArgs struct {
	Handler string
	Request Request
	Timeout Timeout
}

// RPCServer exposes a Plugin over net/rpc. Its exported methods follow the
// net/rpc calling convention.
type RPCServer struct {
	Impl Plugin
}

// Hook runs a lifecycle hook. ok is set when the hook succeeds; gob
// cannot encode an empty reply.
func (s *RPCServer) Hook(args HookArgs, ok *bool) error {
	ctx, cancel := args.Timeout.context()
	defer cancel()

	var err error
	switch args.Hook {
	case HookInstall:
		err = s.Impl.OnInstall(ctx)
	case HookActivate:
		err = s.Impl.OnActivate(ctx)
	case HookDeactivate:
		err = s.Impl.OnDeactivate(ctx)
	case HookUninstall:
		err = s.Impl.OnUninstall(ctx)
	default:
		err = oops.In("pluginsdk").With("hook", args.Hook).Errorf("unknown hook %q", args.Hook)
	}
	*ok = err == nil
	return err
}

func (s *RPCServer) Handlers(args HandlersArgs, reply *Handlers) error {
	ctx, cancel := args.Timeout.context()
	defer cancel()

	h, err := s.Impl.Handlers(ctx)
	if err != nil {
		return err
	}
	*reply = h
	return nil
}

func (s *RPCServer) HandleEvent(args EventArgs, reply *EventReply) error {
	ctx, cancel := args.Timeout.context()
	defer cancel()

	emits, err := s.Impl.HandleEvent(ctx, args.Handler, args.Event)
	if err != nil {
		return err
	}
	reply.Emits = emits
	return nil
}

func (s *RPCServer) HandleRequest(args RequestArgs, reply *Response) error {
	ctx, cancel := args.Timeout.context()
	defer cancel()

	resp, err := s.Impl.HandleRequest(ctx, args.Handler, &args.Request)
	if err != nil {
		return err
	}
	if resp != nil {
		*reply = *resp
	}
	return nil
}

// RPCClient is the host's view of a Plugin served by RPCServer.
type RPCClient struct {
	client *rpc.Client
}

var _ Plugin = (*RPCClient)(nil)

// NewRPCClient wraps an established net/rpc connection.
func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{client: c}
}

// call issues an RPC and gives up when ctx is done. The remote call keeps
// running until the plugin's own deadline fires.
func (c *RPCClient) call(ctx context.Context, method string, args, reply any) error {
	call := c.client.Go("Plugin."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		if call.Error != nil {
			return oops.In("pluginsdk").With("method", method).Wrap(call.Error)
		}
		return nil
	case <-ctx.Done():
		return oops.In("pluginsdk").With("method", method).Wrapf(ctx.Err(), "plugin did not answer in time")
	}
}

func (c *RPCClient) hook(ctx context.Context, hook string) error {
	var ok bool
	return c.call(ctx, "Hook", HookArgs{Hook: hook, Timeout: timeoutOf(ctx)}, &ok)
}

func (c *RPCClient) OnInstall(ctx context.Context) error    { return c.hook(ctx, HookInstall) }
func (c *RPCClient) OnActivate(ctx context.Context) error   { return c.hook(ctx, HookActivate) }
func (c *RPCClient) OnDeactivate(ctx context.Context) error { return c.hook(ctx, HookDeactivate) }
func (c *RPCClient) OnUninstall(ctx context.Context) error  { return c.hook(ctx, HookUninstall) }

func (c *RPCClient) Handlers(ctx context.Context) (Handlers, error) {
	var reply Handlers
	err := c.call(ctx, "Handlers", HandlersArgs{Timeout: timeoutOf(ctx)}, &reply)
	return reply, err
}

func (c *RPCClient) HandleEvent(ctx context.Context, handler string, event pluginpkg.Event) ([]Emit, error) {
	var reply EventReply
	args := EventArgs{Handler: handler, Event: event, Timeout: timeoutOf(ctx)}
	if err := c.call(ctx, "HandleEvent", args, &reply); err != nil {
		return nil, err
	}
	return reply.Emits, nil
}

func (c *RPCClient) HandleRequest(ctx context.Context, handler string, req *Request) (*Response, error) {
	var reply Response
	args := RequestArgs{Handler: handler, Request: *req, Timeout: timeoutOf(ctx)}
	if err := c.call(ctx, "HandleRequest", args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
