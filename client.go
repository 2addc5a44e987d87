package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/mil-ad/bosectl/internal/headset"
)

func ipcCall(sock string, req IPCRequest) (IPCResponse, error) {
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to daemon: %w (is `bosectl daemon` running?)", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.Error != "" {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

func runDevices(cfg Config, refresh bool) error {
	resp, err := ipcCall(cfg.Socket, IPCRequest{Command: cmdDevices, Refresh: refresh})
	if err != nil {
		return err
	}
	printDevices(os.Stdout, resp.Devices)
	return nil
}

func runServices(cfg Config, name string) error {
	resp, err := ipcCall(cfg.Socket, IPCRequest{Command: cmdServices, Device: name})
	if err != nil {
		return err
	}
	for _, dev := range resp.Devices {
		printServices(os.Stdout, dev, cfg.ServiceName)
	}
	return nil
}

func runConnect(cfg Config, name string) error {
	resp, err := ipcCall(cfg.Socket, IPCRequest{Command: cmdConnect, Device: name})
	if err != nil {
		return err
	}
	printStatus(os.Stdout, resp)
	return nil
}

func runSend(cfg Config, op string, args []string) error {
	resp, err := ipcCall(cfg.Socket, IPCRequest{Command: cmdSend, Op: op, Args: args})
	if err != nil {
		return err
	}
	printSent(os.Stdout, resp)
	return nil
}

func runStatus(cfg Config, asJSON bool) error {
	resp, err := ipcCall(cfg.Socket, IPCRequest{Command: cmdStatus})
	if err != nil {
		return err
	}
	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(resp)
	}
	printStatus(os.Stdout, resp)
	if resp.Device != "" && resp.State == headset.StateClosed.String() {
		printWarn("the headset closed the control channel, connect again to use it")
	}
	return nil
}

func runDisconnect(cfg Config) error {
	resp, err := ipcCall(cfg.Socket, IPCRequest{Command: cmdDisconnect})
	if err != nil {
		return err
	}
	printStatus(os.Stdout, resp)
	return nil
}
