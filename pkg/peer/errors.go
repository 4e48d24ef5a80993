/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package peer

import "errors"

var (
	// ErrInvalidNegotiationState indicates an offer/answer step was called out of order
	ErrInvalidNegotiationState = errors.New("invalid negotiation state")

	// ErrConnectionClosed indicates the endpoint or its transport is closed
	ErrConnectionClosed = errors.New("connection closed")
)
