// Command helloworld is the minimal Cap'n Web demo: a single "hello" method
// reachable over both transport profiles SetupRpcEndpoint exposes.
package main

import (
	"log"
	"os"

	"github.com/capnweb-go/capnweb"
)

func newHelloHost() capnweb.ContextualHost {
	target := capnweb.NewBaseRpcTarget(nil)
	target.Method("hello", func(_ *capnweb.InvokeContext, args []any) (any, error) {
		if len(args) == 0 {
			return "Hello, World!", nil
		}
		name, _ := args[0].(string)
		return "Hello, " + name + "!", nil
	})
	return target
}

func main() {
	staticPath := "/static"
	if len(os.Args) >= 2 {
		staticPath = os.Args[1]
	}
	port := ":8000"

	e := capnweb.SetupEchoServer()
	capnweb.SetupRpcEndpoint(e, "/api", newHelloHost)
	e.Static("/static", staticPath)

	log.Printf("helloworld server starting on port %s", port)
	log.Printf("static files served from: %s", staticPath)
	log.Printf("websocket rpc endpoint: ws://localhost%s/api", port)
	log.Println("try it (push and pull in one request; each POST gets a fresh session):")
	log.Printf(`  curl -X POST http://localhost%s/api --data-binary $'["push",[["import",1],"hello",["World"]]]\n["pull",1]'`, port)

	if err := e.Start(port); err != nil {
		log.Fatal("failed to start server: ", err)
	}
}
