package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mil-ad/bosectl/internal/bluez"
	"github.com/mil-ad/bosectl/internal/command"
	"github.com/mil-ad/bosectl/internal/headset"
)

type daemon struct {
	cfg   Config
	coord *headset.Coordinator
	log   *slog.Logger
}

func newDaemon(cfg Config, t headset.Transport, log *slog.Logger) *daemon {
	return &daemon{
		cfg: cfg,
		coord: headset.NewCoordinator(t, headset.Options{
			ServiceName: cfg.ServiceName,
			Logger:      log,
		}),
		log: log,
	}
}

func (d *daemon) handleRequest(ctx context.Context, req IPCRequest) IPCResponse {
	switch req.Command {
	case cmdDevices:
		ctx, cancel := context.WithTimeout(ctx, d.cfg.QueryTimeout)
		defer cancel()

		devices, err := d.coord.ListPairedDevices(ctx, req.Refresh)
		if err != nil {
			return errorResponse(err)
		}
		if devices == nil {
			devices = []headset.PairedDevice{}
		}
		return IPCResponse{Devices: devices}

	case cmdServices:
		name, err := resolveDevice(d.cfg, req.Device)
		if err != nil {
			return errorResponse(err)
		}
		ctx, cancel := context.WithTimeout(ctx, 2*d.cfg.QueryTimeout)
		defer cancel()

		dev, err := d.findDevice(ctx, name)
		if err != nil {
			return errorResponse(err)
		}
		dev, err = d.coord.Resolver().Inspect(ctx, dev)
		if err != nil {
			return errorResponse(err)
		}
		return IPCResponse{Devices: []headset.PairedDevice{dev}}

	case cmdConnect:
		name, err := resolveDevice(d.cfg, req.Device)
		if err != nil {
			return errorResponse(err)
		}
		ctx, cancel := context.WithTimeout(ctx, d.cfg.QueryTimeout+d.cfg.OpenTimeout)
		defer cancel()

		if err := d.coord.Connect(ctx, name); err != nil {
			return errorResponse(err)
		}
		if d.cfg.InitOnConnect {
			if err := d.coord.SendCommand(command.Init()); err != nil {
				d.log.Warn("init handshake not sent", "err", err)
			}
		}
		return d.status()

	case cmdSend:
		cmd, err := command.Parse(req.Op, req.Args...)
		if err != nil {
			return errorResponse(err)
		}
		if err := d.coord.SendCommand(cmd); err != nil {
			return errorResponse(err)
		}
		resp := d.status()
		resp.Frame = cmd.Frame().String()
		return resp

	case cmdStatus:
		return d.status()

	case cmdDisconnect:
		if err := d.coord.Disconnect(); err != nil {
			d.log.Debug("disconnect", "err", err)
		}
		return d.status()

	default:
		return IPCResponse{Error: fmt.Sprintf("unknown command: %q", req.Command)}
	}
}

func (d *daemon) status() IPCResponse {
	st := d.coord.Status()
	if st.Device.Address == "" {
		return IPCResponse{State: headset.StateClosed.String()}
	}
	return IPCResponse{
		State:   st.State.String(),
		Device:  st.Device.DisplayName(),
		Address: st.Device.Address,
		Channel: st.Channel,
	}
}

// findDevice looks name up among the paired devices, enumerating them if
// nothing was listed yet.
func (d *daemon) findDevice(ctx context.Context, name string) (headset.PairedDevice, error) {
	if _, err := d.coord.ListPairedDevices(ctx, false); err != nil {
		return headset.PairedDevice{}, err
	}
	dev, ok := d.coord.Registry().FindByName(name)
	if !ok {
		return headset.PairedDevice{}, fmt.Errorf("%w: %q", headset.ErrDeviceNotFound, name)
	}
	return dev, nil
}

func errorResponse(err error) IPCResponse {
	return IPCResponse{Error: err.Error()}
}

func (d *daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req IPCRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		resp := IPCResponse{Error: "invalid request: " + err.Error()}
		json.NewEncoder(conn).Encode(resp)
		return
	}

	resp := d.handleRequest(ctx, req)
	if resp.Error != "" {
		d.log.Info("request failed", "command", req.Command, "err", resp.Error)
	}
	json.NewEncoder(conn).Encode(resp)
}

// watchDevices drops the active session when its device disconnects.
func (d *daemon) watchDevices(ctx context.Context, changes <-chan bluez.DeviceChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Connected || c.Address != d.coord.ActiveAddress() {
				continue
			}
			d.log.Info("active device disconnected", "address", c.Address)
			if err := d.coord.Disconnect(); err != nil {
				d.log.Debug("disconnect", "err", err)
			}
		}
	}
}

// logEvents logs channel events until ctx is done.
func (d *daemon) logEvents(ctx context.Context) {
	events, unsub := d.coord.Events().Subscribe()
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log := d.log.With("address", e.Address, "channel", e.Channel)
			switch e.Kind {
			case headset.EventState:
				if e.Err != nil {
					log.Info("channel state", "state", e.State, "err", e.Err)
				} else {
					log.Info("channel state", "state", e.State)
				}
			case headset.EventData:
				log.Debug("received", "bytes", hex.EncodeToString(e.Data))
			case headset.EventWrite:
				if e.Err != nil {
					log.Warn("write failed", "frame", hex.EncodeToString(e.Data), "err", e.Err)
				} else {
					log.Debug("wrote", "frame", hex.EncodeToString(e.Data))
				}
			case headset.EventChannelOpened:
				log.Info("channel opened by remote")
			}
		}
	}
}

func runDaemon(cfg Config, log *slog.Logger) error {
	t, err := bluez.New(bluez.Options{Adapter: cfg.Adapter, PowerOn: cfg.PowerOn, Logger: log})
	if err != nil {
		return err
	}
	defer t.Close()

	sock := cfg.Socket
	os.Remove(sock) // remove stale socket
	ln, err := net.Listen("unix", sock)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sock, err)
	}
	os.Chmod(sock, 0700)
	defer os.Remove(sock)

	d := newDaemon(cfg, t, log)
	defer d.coord.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return ln.Close()
	})
	g.Go(func() error {
		d.watchDevices(ctx, t.DeviceChanges())
		return nil
	})
	g.Go(func() error {
		d.logEvents(ctx)
		return nil
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("accept: %w", err)
			}
			g.Go(func() error {
				d.handleConn(ctx, conn)
				return nil
			})
		}
	})

	log.Info("listening", "socket", sock)
	return g.Wait()
}
