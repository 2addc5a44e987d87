package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/mil-ad/bosectl/internal/headset"
)

var (
	headerColor = color.New(color.Bold)
	okColor     = color.New(color.FgGreen, color.Bold)
	dimColor    = color.New(color.Faint)
)

// printWarn prints a warning to the screen.
func printWarn(message string) {
	color.New(color.FgYellow, color.Bold).Println("[-] " + message)
}

// printError prints an error to the screen.
func printError(err error) {
	color.New(color.FgRed, color.Bold).Println("[!] " + err.Error())
}

func printDevices(w io.Writer, devices []headset.PairedDevice) {
	if len(devices) == 0 {
		dimColor.Fprintln(w, "no paired devices")
		return
	}
	for _, d := range devices {
		fmt.Fprintf(w, "%s  %s\n", headerColor.Sprint(d.Address), d.DisplayName())
	}
}

func printServices(w io.Writer, dev headset.PairedDevice, control string) {
	headerColor.Fprintf(w, "%s (%s)\n", dev.DisplayName(), dev.Address)
	if len(dev.Services) == 0 {
		dimColor.Fprintln(w, "  no service records")
		return
	}
	for _, s := range dev.Services {
		ch := "-"
		if s.Channel != 0 {
			ch = s.Channel.String()
		}
		line := fmt.Sprintf("  %-4s %s", ch, s.Name)
		if s.Name == control {
			okColor.Fprintln(w, line)
			continue
		}
		fmt.Fprintln(w, line)
	}
}

func printStatus(w io.Writer, resp IPCResponse) {
	if resp.State == "" || resp.Device == "" {
		dimColor.Fprintln(w, "not connected")
		return
	}
	state := resp.State
	if resp.State == headset.StateOpen.String() {
		state = okColor.Sprint(state)
	}
	fmt.Fprintf(w, "%s %s (%s) channel %d\n", state, resp.Device, resp.Address, resp.Channel)
}

func printSent(w io.Writer, resp IPCResponse) {
	fmt.Fprintf(w, "%s %s\n", okColor.Sprint("sent"), resp.Frame)
}
