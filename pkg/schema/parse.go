package schema

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
)

// Parse 读取协议配置文档并构建只读节点树
// protocol/region/dir 属性沿树向下继承，每个节点的解析形态在此一次性计算
func Parse(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		// 配置文件统一按UTF-8处理，声明为gb2312等也直接读取
		return input, nil
	}

	var (
		root  *Node
		stack []*Node
		texts []*strings.Builder
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrSchemaParseFailed, "协议配置解析失败", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Tag: t.Name.Local}
			if len(t.Attr) > 0 {
				n.Attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					n.Attrs[a.Name.Local] = a.Value
				}
				n.ID = n.Attrs[AttrID]
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New(errors.ErrSchemaParseFailed, "协议配置存在多个根节点")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
			texts = append(texts, &strings.Builder{})

		case xml.CharData:
			if len(texts) > 0 {
				texts[len(texts)-1].Write(t)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, errors.New(errors.ErrSchemaParseFailed, "协议配置结束标签不匹配")
			}
			n := stack[len(stack)-1]
			if v := strings.TrimSpace(texts[len(texts)-1].String()); v != "" {
				n.Value = v
				n.HasValue = true
			}
			stack = stack[:len(stack)-1]
			texts = texts[:len(texts)-1]
		}
	}

	if root == nil {
		return nil, errors.New(errors.ErrSchemaParseFailed, "协议配置为空")
	}
	if len(stack) != 0 {
		return nil, errors.New(errors.ErrSchemaParseFailed, "协议配置未闭合")
	}

	finalize(root, "", "", "")
	return root, nil
}

// ParseBytes 解析内存中的协议配置
func ParseBytes(data []byte) (*Node, error) {
	return Parse(bytes.NewReader(data))
}

// finalize 填充继承属性并计算解析形态
func finalize(n *Node, protocol, region, dir string) {
	if v, ok := n.Attrs[AttrProtocol]; ok {
		protocol = v
	}
	if v, ok := n.Attrs[AttrRegion]; ok {
		region = v
	}
	if v, ok := n.Attrs[AttrDir]; ok {
		dir = v
	}
	n.Protocol = protocol
	n.Region = region
	n.Dir = dir

	for _, c := range n.Children {
		finalize(c, protocol, region, dir)
	}
	n.Shape = classify(n)
}
