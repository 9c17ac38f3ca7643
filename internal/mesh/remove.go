package mesh

import (
	"context"
	"fmt"
)

// Remove deletes a device from the registry and, when this controller is the
// network's addressing root, evicts it from the radio network.
//
// The eviction first asks the device to leave (bounded by the leave timeout).
// If that request fails or is rejected the transport's forced removal is used
// instead. EventDeviceRemoved is emitted in every case once the device was
// registered. Unknown identities are a no-op.
//
// Once started, the eviction is not cancelled with ctx; only the leave timeout
// bounds it. A forced removal failure is returned wrapped; the device is still
// gone from the registry.
//
// Joins for the identity that arrive during the eviction are replayed after
// EventDeviceRemoved, so listeners never see a removal after a rejoin.
func (c *Coordinator) Remove(ctx context.Context, ieee EUI64) error {
	c.mu.Lock()
	dev, err := c.registry.Remove(ieee)
	if err == nil {
		c.removing[ieee] = &deferredJoin{}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("remove of unknown device ignored", "ieee", ieee.String())
		return nil
	}

	info := dev.Info()
	c.logger.Info("removing device", "ieee", ieee.String(), "nwk", info.NWK.String())

	evictCtx := context.WithoutCancel(ctx)

	var removeErr error
	if c.IsAddressingRoot() {
		if err := c.leave(evictCtx, info); err != nil {
			c.logger.Info("leave request failed, forcing removal",
				"ieee", ieee.String(), "error", err)
			removeErr = c.forceRemove(evictCtx, ieee)
		}
	} else {
		c.logger.Debug("not the addressing root, skipping leave", "ieee", ieee.String())
	}

	c.mu.Lock()
	c.events.Publish(Event{Kind: EventDeviceRemoved, Device: info})
	pending := c.removing[ieee]
	delete(c.removing, ieee)
	c.mu.Unlock()

	if pending.seen {
		c.logger.Info("replaying join received during removal", "ieee", ieee.String())
		if pending.fromNetwork {
			c.AddUpdateDeviceFromNetwork(pending.nwk, ieee)
		} else {
			c.HandleJoin(pending.nwk, ieee, pending.parent)
		}
	}

	return removeErr
}

// leave sends Mgmt_Leave_req to the device and checks the response status.
func (c *Coordinator) leave(ctx context.Context, info DeviceInfo) error {
	ctx, cancel := context.WithTimeout(ctx, c.leaveTimeout)
	defer cancel()

	resp, err := c.SendRequest(ctx, Request{
		NWK:         info.NWK,
		Profile:     ProfileZDO,
		Cluster:     ClusterMgmtLeaveReq,
		SrcEndpoint: EndpointZDO,
		DstEndpoint: EndpointZDO,
		Data:        leavePayload(info.IEEE),
		ExpectReply: true,
		Timeout:     c.leaveTimeout,
	})
	if err != nil {
		return err
	}
	if resp.Status != StatusSuccess {
		return fmt.Errorf("%w: status 0x%02x", ErrLeaveRejected, resp.Status)
	}
	return nil
}

func (c *Coordinator) forceRemove(ctx context.Context, ieee EUI64) error {
	t, err := c.requireTransport()
	if err != nil {
		return fmt.Errorf("force removing %s: %w", ieee, err)
	}
	if err := t.ForceRemove(ctx, ieee); err != nil {
		return fmt.Errorf("force removing %s: %w", ieee, err)
	}
	return nil
}
