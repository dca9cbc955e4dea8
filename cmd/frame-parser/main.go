package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/protocol"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

// schemaFiles 可重复的 -schema 协议=文件 参数
type schemaFiles map[string]string

func (s schemaFiles) String() string {
	parts := make([]string, 0, len(s))
	for name, path := range s {
		parts = append(parts, name+"="+path)
	}
	return strings.Join(parts, ",")
}

func (s schemaFiles) Set(value string) error {
	name, path, ok := strings.Cut(value, "=")
	if !ok || name == "" || path == "" {
		return fmt.Errorf("格式应为 协议=文件路径: %s", value)
	}
	s[name] = path
	return nil
}

func main() {
	// 定义命令行参数
	schemas := schemaFiles{}
	var (
		interactive = flag.Bool("i", false, "进入交互模式")
		hexData     = flag.String("hex", "", "要解析的十六进制报文")
		region      = flag.String("region", schema.DefaultRegion, "地区")
		format      = flag.String("format", "tree", "输出格式: tree|json|yaml")
	)
	flag.Var(schemas, "schema", "替换内置协议配置，格式 协议=文件路径，可重复")

	// 解析命令行参数
	flag.Parse()

	r, err := newRenderer(*format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	analyzer, err := newAnalyzer(schemas)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载协议配置失败: %v\n", err)
		os.Exit(1)
	}

	// 判断运行模式
	switch {
	case *interactive:
		runInteractiveMode(os.Stdin, os.Stdout, analyzer, *region, r)
	case *hexData != "":
		if err := parse(os.Stdout, analyzer, *hexData, *region, r); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	default:
		usage()
	}
}

func usage() {
	fmt.Println("电表报文解析工具")
	fmt.Println("用法:")
	fmt.Println("  frame-parser -hex <十六进制报文> [-region 南网] [-format tree|json|yaml]")
	fmt.Println("  frame-parser -i                                - 进入交互模式")
	fmt.Println("  frame-parser -schema CSG13=./CSG13.xml -hex ... - 使用自定义协议配置")
	fmt.Println("\n示例:")
	fmt.Println("  frame-parser -hex 68129078563412689108333334339A7856348816")
}

// newAnalyzer 加载内置协议配置，并用指定文件替换
func newAnalyzer(files schemaFiles) (*protocol.Analyzer, error) {
	reg, err := schema.NewDefaultRegistry()
	if err != nil {
		return nil, err
	}
	for name, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := reg.Update(name, content); err != nil {
			return nil, err
		}
	}
	return protocol.NewAnalyzer(reg), nil
}

// parse 解析一段十六进制报文并输出
func parse(w io.Writer, analyzer *protocol.Analyzer, text, region string, r renderer) error {
	frame, err := protocol.HexToBytes(text)
	if err != nil {
		return err
	}
	return r(w, analyzer.Analyze(frame, region))
}

// runInteractiveMode 运行交互模式
// 输入 "region <地区>" 切换地区
func runInteractiveMode(in io.Reader, out io.Writer, analyzer *protocol.Analyzer, region string, r renderer) {
	fmt.Fprintln(out, "电表报文解析工具 - 交互模式")
	fmt.Fprintln(out, "输入十六进制报文进行解析，输入 'region <地区>' 切换地区，输入 'exit' 或 'quit' 退出")
	fmt.Fprintln(out, "----------------------------------------")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxFrameLen*3)
	for {
		fmt.Fprintf(out, "[%s]> ", region)
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "exit" || input == "quit":
			return
		case input == "":
			continue
		case strings.HasPrefix(input, "region "):
			region = strings.TrimSpace(strings.TrimPrefix(input, "region "))
			continue
		}

		if err := parse(out, analyzer, input, region, r); err != nil {
			fmt.Fprintf(out, "解析失败: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "读取输入失败: %v\n", err)
	}
}
