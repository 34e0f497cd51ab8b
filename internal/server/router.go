package server

import (
	"context"
	"net/http"
	"strings"
)

// HandlerFunc handles one routed request.
type HandlerFunc func(ctx context.Context, req *Request) Response

type route struct {
	method   string
	segments []string
	handler  HandlerFunc
}

// Router matches method and path exactly; a segment written as {name} matches
// any non-empty segment and is exposed through Request.PathValue.
// Routes are tried in registration order.
type Router struct {
	routes   []route
	notFound HandlerFunc
}

func NewRouter() *Router {
	return &Router{notFound: func(context.Context, *Request) Response {
		return textResponse(http.StatusNotFound, msgNotFound)
	}}
}

func (rt *Router) Handle(method, pattern string, h HandlerFunc) {
	rt.routes = append(rt.routes, route{
		method:   method,
		segments: strings.Split(pattern, "/"),
		handler:  h,
	})
}

// Match returns the handler for req and fills its path values.
// ok is false when nothing matched; the not-found handler is returned then.
func (rt *Router) Match(req *Request) (h HandlerFunc, ok bool) {
	segments := strings.Split(req.Path, "/")
	for _, r := range rt.routes {
		if r.method != req.Method || len(r.segments) != len(segments) {
			continue
		}
		if params, matched := matchSegments(r.segments, segments, req.Path); matched {
			req.params = params
			return r.handler, true
		}
	}
	return rt.notFound, false
}

func matchSegments(pattern, segments []string, path string) (map[string]string, bool) {
	var params map[string]string
	for i, seg := range pattern {
		name, isParam := paramName(seg)
		if !isParam {
			if seg != segments[i] {
				return nil, false
			}
			continue
		}
		v := PathSegment(path, i)
		if v == "" {
			return nil, false
		}
		if params == nil {
			params = make(map[string]string)
		}
		params[name] = v
	}
	return params, true
}

func paramName(seg string) (string, bool) {
	if len(seg) > 2 && strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
		return seg[1 : len(seg)-1], true
	}
	return "", false
}

// Dispatch routes req and runs the matched handler.
func (rt *Router) Dispatch(ctx context.Context, req *Request) Response {
	h, _ := rt.Match(req)
	return h(ctx, req)
}
