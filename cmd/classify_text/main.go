package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"issuetriage/client"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8000", "classifier base URL")
	timeout := flag.Duration("timeout", client.DefaultTimeout, "request timeout")
	token := flag.String("token", "", "admin token for -reload")
	reload := flag.Bool("reload", false, "ask the service to reload its model instead of classifying")
	health := flag.Bool("health", false, "print the service health and exit")
	flag.Parse()

	c := client.New(*addr, *timeout).WithToken(*token)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout+time.Second)
	defer cancel()

	var (
		result interface{}
		err    error
	)
	switch {
	case *health:
		result, err = c.Health(ctx)
	case *reload:
		result, err = c.Reload(ctx)
	default:
		text := strings.Join(flag.Args(), " ")
		if text == "" {
			// 没有参数时从标准输入读取
			data, readErr := io.ReadAll(os.Stdin)
			if readErr != nil {
				log.Fatalf("read stdin: %v", readErr)
			}
			text = string(data)
		}
		result, err = c.Classify(ctx, text)
	}
	if err != nil {
		log.Fatal(err)
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	if err := out.Encode(result); err != nil {
		log.Fatal(err)
	}
}
