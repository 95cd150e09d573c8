package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"

	"github.com/mikekulinski/zkclient/pkg/zookeeper"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold).SprintFunc()
	pathColor    = color.New(color.FgCyan).SprintFunc()
	stateColor   = color.New(color.FgYellow).SprintFunc()
	createdColor = color.New(color.FgGreen).SprintFunc()
	deletedColor = color.New(color.FgRed).SprintFunc()
	changedColor = color.New(color.FgBlue).SprintFunc()
)

// statView is the printed form of a zookeeper.Stat.
type statView struct {
	Path           string `yaml:"path"`
	Czxid          string `yaml:"czxid"`
	Mzxid          string `yaml:"mzxid"`
	Pzxid          string `yaml:"pzxid"`
	Ctime          string `yaml:"ctime"`
	Mtime          string `yaml:"mtime"`
	Version        int32  `yaml:"version"`
	Cversion       int32  `yaml:"cversion"`
	Aversion       int32  `yaml:"aversion"`
	EphemeralOwner string `yaml:"ephemeralOwner"`
	DataLength     int32  `yaml:"dataLength"`
	NumChildren    int32  `yaml:"numChildren"`
}

func newStatView(path string, s *zookeeper.Stat) statView {
	millis := func(ms int64) string {
		return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
	}
	return statView{
		Path:           path,
		Czxid:          s.Czxid.String(),
		Mzxid:          s.Mzxid.String(),
		Pzxid:          s.Pzxid.String(),
		Ctime:          millis(s.Ctime),
		Mtime:          millis(s.Mtime),
		Version:        s.Version,
		Cversion:       s.Cversion,
		Aversion:       s.Aversion,
		EphemeralOwner: fmt.Sprintf("0x%x", s.EphemeralOwner),
		DataLength:     s.DataLength,
		NumChildren:    s.NumChildren,
	}
}

func writeStat(w io.Writer, path string, s *zookeeper.Stat, format string) error {
	v := newStatView(path, s)
	if format == "yaml" {
		b, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding stat: %w", err)
		}
		_, err = w.Write(b)
		return err
	}
	_, err := fmt.Fprintf(w,
		"%s\n  czxid = %s\n  mzxid = %s\n  pzxid = %s\n  ctime = %s\n  mtime = %s\n"+
			"  version = %d\n  cversion = %d\n  aversion = %d\n  ephemeralOwner = %s\n"+
			"  dataLength = %d\n  numChildren = %d\n",
		pathColor(v.Path), v.Czxid, v.Mzxid, v.Pzxid, v.Ctime, v.Mtime,
		v.Version, v.Cversion, v.Aversion, v.EphemeralOwner,
		v.DataLength, v.NumChildren)
	return err
}

func writeEvent(w io.Writer, ev zookeeper.Event) {
	ts := time.Now().Format(time.TimeOnly)
	if ev.Type == zookeeper.EventNone {
		fmt.Fprintf(w, "%s %s\n", ts, stateColor(ev.State.String()))
		return
	}
	paint := changedColor
	switch ev.Type {
	case zookeeper.EventNodeCreated:
		paint = createdColor
	case zookeeper.EventNodeDeleted:
		paint = deletedColor
	}
	fmt.Fprintf(w, "%s %s %s\n", ts, paint(ev.Type.String()), pathColor(ev.Path))
}
