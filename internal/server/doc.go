// Package server exposes the image service over two adapters.
//
// # HTTP
//
// HTTPHandler is a fasthttp handler for GET and HEAD requests of the form
//
//	/{modifiers}/{id}
//
// where modifiers is a comma separated list such as "w_200,f_png" ("_" for
// none) and id is a storage path or an absolute URL. Responses carry
// Last-Modified, Cache-Control and a weak ETag, and conditional requests are
// answered with 304. SVG responses get a restrictive Content-Security-Policy.
// Failures are answered with the status from StatusCode and the ipx error
// code in the X-IPX-Error header. When a metrics collector is configured its
// registry is served at the metrics path.
//
// # MCP
//
// Server speaks JSON-RPC 2.0 over stdio (one request per line) and
// implements initialize, tools/list, tools/call and ping. Tools:
//   - ipx_process: transform an image, returning base64 data and metadata
//   - ipx_source_meta: modification time and max age of a source
//   - ipx_modifiers: supported modifier names and aliases
//
// Tool failures are JSON-RPC errors with code -32000 whose data starts with
// the ipx error code.
package server
