// Copyright 2017 DigitalOcean.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ovsdbstore is a real OVSDB JSON-RPC client adapted into an
// implementation of sbdb.Store (spec.md §6's south-bound database
// collaborator). It is grounded on digitalocean/go-openvswitch's ovsdb
// package: the JSON-RPC transport and transact verbs are kept nearly as
// written; the table-specific reads and the tracked-change diffing used to
// approximate OVSDB monitor semantics are new, built for the ten tables
// spec.md §6 requires.
package ovsdbstore

import (
	"net"
	"strconv"
	"sync"

	"github.com/sdnforge/lpft/sbdb/ovsdbstore/internal/jsonrpc"
)

// A Client is an OVSDB JSON-RPC client.
type Client struct {
	c *jsonrpc.Conn

	idMu sync.Mutex
	id   uint64
}

// An OptionFunc configures a Client.
type OptionFunc func(c *Client) error

// Dial dials a connection to an OVSDB server and returns a Client.
func Dial(network, addr string, options ...OptionFunc) (*Client, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}

	return New(conn, options...)
}

// New wraps an existing connection to an OVSDB server and returns a Client.
func New(conn net.Conn, options ...OptionFunc) (*Client, error) {
	client := &Client{}
	for _, o := range options {
		if err := o(client); err != nil {
			return nil, err
		}
	}

	client.c = jsonrpc.NewConn(conn, nil)

	return client, nil
}

// Close closes a Client's connection.
func (c *Client) Close() error {
	return c.c.Close()
}

// nextID returns a monotonically increasing request id, unique per Client.
func (c *Client) nextID() string {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	c.id++
	return strconv.FormatUint(c.id, 10)
}

// rpc performs a single RPC request and checks the response for errors.
func (c *Client) rpc(method string, out interface{}, args ...interface{}) error {
	r := result{Reply: out}

	req := jsonrpc.Request{
		ID:     c.nextID(),
		Method: method,
		Params: args,
	}

	if err := c.c.Send(req); err != nil {
		return err
	}

	res, err := c.c.Receive()
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}

	if len(res.Result) > 0 {
		if err := r.UnmarshalJSON(res.Result); err != nil {
			return err
		}
	}
	if r.Err != nil {
		return r.Err
	}

	return nil
}

// Transact executes one or more TransactOps against the named database and
// decodes the per-op replies into out (a pointer to a slice of
// json.RawMessage matching the op order).
func (c *Client) Transact(database string, out interface{}, ops ...TransactOp) error {
	return c.rpc("transact", out, transactArg{Database: database, Ops: ops})
}
