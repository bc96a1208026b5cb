/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTCouplings bridges the engine to an MQTT broker: payloads on the
// subscription topic are utterances, answers are published on the
// outbound topic.
type MQTTCouplings struct {
	Client  mqtt.Client
	Quiesce uint

	InTopic  string
	OutTopic string
	QoS      int

	in  chan string
	out chan string
}

func NewMQTTCouplings(args []string) (*MQTTCouplings, *flag.FlagSet) {
	c := &MQTTCouplings{}

	var (
		// Follow mosquitto_sub command line args.
		fs = flag.NewFlagSet("mq", flag.ExitOnError)

		broker    = fs.String("h", "tcp://localhost", "Broker hostname")
		port      = fs.Int("p", 1883, "Broker port")
		clientId  = fs.String("i", "qwiery", "Client id")
		keepAlive = fs.Int("k", 10, "Keep-alive in seconds")
		userName  = fs.String("u", "", "Username")
		password  = fs.String("P", "", "Password")
		clean     = fs.Bool("c", true, "Clean session")
		quiesce   = fs.Int("quiesce", 100, "Disconnection quiescence (in milliseconds)")
	)
	fs.StringVar(&c.InTopic, "t", "qwiery/in", "Subscription topic")
	fs.StringVar(&c.OutTopic, "out-topic", "qwiery/out", "Out-bound answer topic")
	fs.IntVar(&c.QoS, "qos", 0, "QoS for both directions")

	if args == nil {
		return nil, fs
	}
	fs.Parse(args)

	mqtt.ERROR = log.New(os.Stderr, "mqtt.error", 0)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s:%d", *broker, *port))
	opts.SetClientID(*clientId)
	opts.SetKeepAlive(time.Second * time.Duration(*keepAlive))
	opts.Username = *userName
	opts.Password = *password
	opts.CleanSession = *clean

	c.Client = mqtt.NewClient(opts)
	c.Quiesce = uint(*quiesce)

	return c, fs
}

func (c *MQTTCouplings) Start(ctx context.Context) error {
	c.in = make(chan string)
	c.out = make(chan string)

	if t := c.Client.Connect(); t.Wait() && t.Error() != nil {
		return t.Error()
	}

	handler := func(client mqtt.Client, msg mqtt.Message) {
		select {
		case <-ctx.Done():
		case c.in <- string(msg.Payload()):
		}
	}
	if t := c.Client.Subscribe(c.InTopic, byte(c.QoS), handler); t.Wait() && t.Error() != nil {
		return t.Error()
	}
	log.Println("mq subscribed to", c.InTopic)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-c.out:
				if !ok {
					return
				}
				if t := c.Client.Publish(c.OutTopic, byte(c.QoS), false, line); t.Wait() && t.Error() != nil {
					log.Println("mq publish", t.Error())
				}
			}
		}
	}()

	return nil
}

func (c *MQTTCouplings) IO(ctx context.Context) (chan string, chan string, error) {
	return c.in, c.out, nil
}

func (c *MQTTCouplings) Stop(ctx context.Context) error {
	c.Client.Disconnect(c.Quiesce)
	return nil
}
