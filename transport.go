package capnweb

// Transport is the boundary spec.md §4.6 describes between the wire byte
// stream and the Session engine. The three profiles it names — batch,
// full-duplex stream, and stream-with-unidirectional-pipes — differ only in
// how bytes reach Inject and leave via Drain; none of that affects Session
// itself; and that lets each profile live as a thin Drain/Inject driver in
// its own file (transport_http.go, transport_ws.go) instead of a shared
// interface with multiple half-used methods. The unidirectional-pipes
// profile isn't given its own file: it is, byte-for-byte, the batch
// profile's reader/writer pairing run over two independent pipes instead of
// one request/response body, so SetupRpcEndpoint's HTTP handler already
// covers it.
