package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/decoder"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/protocol"
)

// renderer 解析结果输出
type renderer func(w io.Writer, res protocol.Result) error

func newRenderer(format string) (renderer, error) {
	switch strings.ToLower(format) {
	case "tree", "":
		return renderTree, nil
	case "json":
		return renderJSON, nil
	case "yaml", "yml":
		return renderYAML, nil
	}
	return nil, fmt.Errorf("不支持的输出格式: %s", format)
}

func renderJSON(w io.Writer, res protocol.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(res)
}

func renderYAML(w io.Writer, res protocol.Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(res); err != nil {
		return err
	}
	return enc.Close()
}

// renderTree 按层级缩进输出，每行：帧域 [起,止) 数据 描述
func renderTree(w io.Writer, res protocol.Result) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "协议: %s  地区: %s\n", res.Protocol, res.Region)

	decoder.Walk(res.Data, func(f decoder.Field, depth int) bool {
		indent := strings.Repeat("  ", depth)
		fmt.Fprintf(&sb, "%s%s [%d,%d) %s", indent, f.FrameDomain, f.Position[0], f.Position[1], f.Data)
		if f.Description != "" {
			fmt.Fprintf(&sb, "  %s", f.Description)
		}
		if f.Color != "" {
			fmt.Fprintf(&sb, "  (%s)", f.Color)
		}
		sb.WriteByte('\n')
		return true
	})

	for _, d := range res.Diagnostics {
		fmt.Fprintf(&sb, "! %s\n", d.Error())
	}
	if res.Error != "" {
		fmt.Fprintf(&sb, "错误: %s\n", res.Error)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
